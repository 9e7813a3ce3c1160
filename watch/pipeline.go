package watch

import (
	"context"
	"fmt"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
)

// process runs fetch → compare → action → policy for one resource and records
// the outcome on pc. It never writes state. pc.NewState is left nil when no
// state change must be persisted.
func (w *Watcher) process(ctx context.Context, policy Policy, pc *ProcessContext) {
	base := ResourceState{ResourceID: pc.Current.ResourceID}
	if pc.LastState != nil {
		base = *pc.LastState.Clone()
	}

	fail := func(err error) {
		if ctx.Err() != nil {
			// Cancelled mid-flight: leave the state untouched so the next run
			// picks the resource up again with no penalty.
			pc.ResultType = ResultSkipped
			pc.Err = err
			return
		}
		next := policy.OnFailure(base, err, w.now())
		pc.ResultType = ResultError
		pc.Err = err
		pc.NewState = &next
	}

	payload, err := w.source.Fetch(ctx, w.tenant, pc.Current.ResourceID)
	if err != nil {
		fail(errors.Wrapf(err, "fetch %s", pc.Current.ResourceID))
		return
	}
	if payload == nil {
		fail(errors.Mark(errors.Newf("source returned no payload for %s", pc.Current.ResourceID), errors.ErrFetchFailed))
		return
	}

	if pc.LastState != nil && payload.Checksum != "" && payload.Checksum == pc.LastState.Checksum {
		pc.ResultType = ResultNoNewData
		if !pc.LastState.Modified.Equal(pc.Current.Modified) {
			next := policy.OnUnchanged(base, payload.Checksum, pc.Current.Modified)
			pc.NewState = &next
		}
		return
	}

	extensions, err := w.execute(ctx, pc, payload)
	switch {
	case errors.Is(err, errors.ErrNoAction):
		next := policy.OnUnchanged(base, payload.Checksum, pc.Current.Modified)
		pc.ResultType = ResultNoAction
		pc.NewState = &next
	case err != nil:
		fail(errors.Wrapf(err, "action on %s", pc.Current.ResourceID))
	default:
		next := policy.OnSuccess(base, payload.Checksum, pc.Current.Modified, extensions)
		pc.ResultType = ResultNormal
		pc.NewState = &next
	}
}

// execute calls the action, turning a panic into an error so one resource
// cannot take down the run.
func (w *Watcher) execute(ctx context.Context, pc *ProcessContext, payload *Payload) (ext map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("Action panicked",
				logger.FieldResourceID, pc.Current.ResourceID,
				"panic", fmt.Sprint(r))
			err = errors.Newf("action panicked: %s", fmt.Sprint(r))
		}
	}()
	return w.action.Execute(ctx, w.tenant, pc, payload)
}

// persist writes pc.NewState. The write is detached from cancellation so a
// resource whose action already ran always records its outcome.
func (w *Watcher) persist(ctx context.Context, runID string, pc *ProcessContext) error {
	if pc.NewState == nil {
		return nil
	}
	if err := w.store.Put(context.WithoutCancel(ctx), w.tenant, pc.NewState); err != nil {
		err = errors.Mark(
			errors.Wrapf(err, "save state of %s", pc.Current.ResourceID),
			errors.ErrStateSaveFailed,
		)
		w.observers.StateSaveFailed(FatalEvent{
			RunID:      runID,
			Tenant:     w.tenant,
			ResourceID: pc.Current.ResourceID,
			Err:        err,
		})
		return err
	}
	return nil
}
