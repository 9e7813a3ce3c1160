package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
)

// Watcher runs reconciliation for a single tenant. Runs on one Watcher are
// serialized; independent tenants use independent Watchers.
type Watcher struct {
	tenant    string
	source    Source
	store     StateStore
	action    Action
	members   []Observer
	observers *Observers
	log       *zap.SugaredLogger
	now       func() time.Time
	newRunID  func() string

	cfgMu sync.RWMutex
	cfg   Config

	runMu sync.Mutex // held for the duration of a run

	failMu              sync.Mutex
	consecutiveFailures int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithObservers appends observers that receive every event of the watcher.
func WithObservers(obs ...Observer) Option {
	return func(w *Watcher) {
		w.members = append(w.members, obs...)
	}
}

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// WithFailureCount seeds the consecutive-failure counter, typically from
// persisted run history, so the limit holds across process restarts.
func WithFailureCount(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.consecutiveFailures = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithRunIDs overrides run id generation, for tests.
func WithRunIDs(gen func() string) Option {
	return func(w *Watcher) {
		if gen != nil {
			w.newRunID = gen
		}
	}
}

// New creates a Watcher for tenant.
func New(tenant string, src Source, store StateStore, action Action, cfg Config, opts ...Option) (*Watcher, error) {
	if tenant == "" {
		return nil, errors.NewInvalidRequestError("tenant is required")
	}
	if src == nil || store == nil || action == nil {
		return nil, errors.NewInvalidRequestError("source, state store and action are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid watch config for tenant %s", tenant)
	}

	w := &Watcher{
		tenant:   tenant,
		source:   src,
		store:    store,
		action:   action,
		cfg:      cfg,
		log:      logger.Logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.FieldComponent, "watch", logger.FieldTenant, tenant)
	w.observers = NewObservers(w.log, w.members...)
	return w, nil
}

// Tenant returns the tenant this watcher reconciles.
func (w *Watcher) Tenant() string {
	return w.tenant
}

// Config returns the configuration the next run will use.
func (w *Watcher) Config() Config {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()
	return w.cfg
}

// SetConfig replaces the configuration. A run in progress keeps the
// configuration it started with.
func (w *Watcher) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	w.cfgMu.Lock()
	w.cfg = cfg
	w.cfgMu.Unlock()
	return nil
}

// ConsecutiveFailures returns the number of failed runs in a row.
func (w *Watcher) ConsecutiveFailures() int {
	w.failMu.Lock()
	defer w.failMu.Unlock()
	return w.consecutiveFailures
}

// RunOnce performs one reconciliation pass. The summary is always returned,
// also for failed runs; the error is non-nil only for run-fatal conditions
// or cancellation.
func (w *Watcher) RunOnce(ctx context.Context, runType RunType) (*RunSummary, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	cfg := w.Config()
	start := w.now()
	summary := newRunSummary(w.newRunID(), w.tenant, runType, start)

	ctx = logger.WithRunID(logger.WithTenant(ctx, w.tenant), summary.RunID)
	w.observers.RunStart(RunStartEvent{
		RunID:   summary.RunID,
		Tenant:  w.tenant,
		RunType: runType,
		At:      start,
	})

	err := w.run(ctx, cfg, summary)
	summary.Elapsed = w.now().Sub(start)
	if err != nil {
		summary.Phase = PhaseFailed
		summary.Err = err
	} else {
		summary.Phase = PhaseCompleted
	}

	if cfg.RunWarnAfter > 0 && summary.Elapsed > cfg.RunWarnAfter {
		w.observers.RunTookTooLong(SlowEvent{
			RunID:     summary.RunID,
			Tenant:    w.tenant,
			Elapsed:   summary.Elapsed,
			Threshold: cfg.RunWarnAfter,
		})
	}

	summary.Outcome = outcomeOf(ctx, summary)
	w.observers.RunStop(summary)
	w.trackFailures(cfg, summary)
	return summary, err
}

func (w *Watcher) run(ctx context.Context, cfg Config, summary *RunSummary) error {
	summary.Phase = PhaseListing
	w.observers.ListStart(ListStartEvent{RunID: summary.RunID, Tenant: w.tenant})
	listStart := w.now()
	descriptors, err := w.source.List(ctx, w.tenant)
	if err != nil {
		if !errors.IsAny(err, errors.ErrSourceUnavailable, context.Canceled, context.DeadlineExceeded) {
			err = errors.Mark(err, errors.ErrSourceUnavailable)
		}
		err = errors.Wrapf(err, "list resources of tenant %s", w.tenant)
	}
	w.observers.ListStop(ListStopEvent{
		RunID:   summary.RunID,
		Tenant:  w.tenant,
		Count:   len(descriptors),
		Elapsed: w.now().Sub(listStart),
		Err:     err,
	})
	if err != nil {
		return err
	}
	summary.Found = len(descriptors)

	if dup, ok := findDuplicate(descriptors); ok {
		err := errors.Mark(
			errors.Newf("found multiple entries for resource id %q in tenant %s", dup, w.tenant),
			errors.ErrDuplicateResourceID,
		)
		w.observers.DuplicateResourceID(FatalEvent{
			RunID:      summary.RunID,
			Tenant:     w.tenant,
			ResourceID: dup,
			Err:        err,
		})
		return err
	}

	summary.Phase = PhaseClassifying
	classifyStart := w.now()
	all, queue, err := w.classify(ctx, descriptors, summary)
	if err != nil {
		return err
	}
	w.observers.ClassifyStop(ClassifyStopEvent{
		RunID:   summary.RunID,
		Tenant:  w.tenant,
		Counts:  summary.Classified,
		Elapsed: w.now().Sub(classifyStart),
	})

	summary.Phase = PhaseProcessing
	summary.Queued = len(queue)
	procErr := w.processAll(ctx, cfg, summary.RunID, queue)

	summary.Phase = PhasePersisting
	for _, pc := range all {
		if pc.ResultType == 0 {
			pc.ResultType = ResultSkipped
		}
		summary.Results[pc.ResultType]++
	}
	if procErr != nil {
		return procErr
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "run of tenant %s cancelled", w.tenant)
	}
	return nil
}

// classify reads the state snapshot for every listed resource. Resources that
// need no work are marked Skipped right away.
func (w *Watcher) classify(ctx context.Context, descriptors []ResourceDescriptor, summary *RunSummary) (all, queue []*ProcessContext, err error) {
	now := w.now()
	all = make([]*ProcessContext, 0, len(descriptors))
	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.Wrapf(err, "run of tenant %s cancelled", w.tenant)
		}
		last, err := w.store.Get(ctx, w.tenant, d.ResourceID)
		if err != nil {
			if !errors.Is(err, errors.ErrStoreFailed) {
				err = errors.Mark(err, errors.ErrStoreFailed)
			}
			return nil, nil, errors.Wrapf(err, "read state of %s", d.ResourceID)
		}
		pc := &ProcessContext{
			Current:     d,
			LastState:   last,
			ProcessType: Classify(d, last, now),
		}
		summary.Classified[pc.ProcessType]++
		if pc.ProcessType.NeedsProcessing() {
			queue = append(queue, pc)
		} else {
			pc.ResultType = ResultSkipped
		}
		all = append(all, pc)
	}
	for i, pc := range queue {
		pc.Index = i + 1
		pc.Total = len(queue)
	}
	return all, queue, nil
}

// processAll fans the queue out over at most cfg.Parallelism workers. The
// first failed state write cancels the remaining work.
func (w *Watcher) processAll(ctx context.Context, cfg Config, runID string, queue []*ProcessContext) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	policy := cfg.Policy()

	for _, pc := range queue {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return w.processOne(gctx, cfg, policy, runID, pc)
		})
	}
	return g.Wait()
}

func (w *Watcher) processOne(ctx context.Context, cfg Config, policy Policy, runID string, pc *ProcessContext) error {
	start := w.now()
	w.observers.ResourceStart(ResourceEvent{RunID: runID, Tenant: w.tenant, Context: pc})

	saveErr := w.handle(ctx, policy, runID, pc)
	pc.Elapsed = w.now().Sub(start)

	w.observers.ResourceStop(ResourceEvent{
		RunID:   runID,
		Tenant:  w.tenant,
		Context: pc,
		Banned:  pc.NewState.IsBanned(w.now()),
		Elapsed: pc.Elapsed,
	})
	if cfg.ResourceWarnAfter > 0 && pc.Elapsed > cfg.ResourceWarnAfter {
		w.observers.ResourceTookTooLong(SlowEvent{
			RunID:      runID,
			Tenant:     w.tenant,
			ResourceID: pc.Current.ResourceID,
			Elapsed:    pc.Elapsed,
			Threshold:  cfg.ResourceWarnAfter,
		})
	}
	return saveErr
}

// handle processes and persists one resource. A failed save keeps the action's
// result and aborts the run through the returned error. A panic in the source,
// action or store marks the resource Error and writes no state.
func (w *Watcher) handle(ctx context.Context, policy Policy, runID string, pc *ProcessContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("Resource processing panicked",
				logger.FieldResourceID, pc.Current.ResourceID,
				"panic", fmt.Sprint(r))
			pc.ResultType = ResultError
			pc.Err = errors.Newf("processing %s panicked: %s", pc.Current.ResourceID, fmt.Sprint(r))
			pc.NewState = nil
			err = nil
		}
	}()
	w.process(ctx, policy, pc)
	return w.persist(ctx, runID, pc)
}

// trackFailures updates the circuit breaker. Cancelled runs leave the
// counter untouched.
func (w *Watcher) trackFailures(cfg Config, summary *RunSummary) {
	if summary.Outcome == OutcomeCancelled {
		return
	}

	w.failMu.Lock()
	if summary.Outcome == OutcomeSucceeded {
		w.consecutiveFailures = 0
		w.failMu.Unlock()
		return
	}
	w.consecutiveFailures++
	count := w.consecutiveFailures
	w.failMu.Unlock()

	if cfg.ConsecutiveFailureLimit > 0 && count >= cfg.ConsecutiveFailureLimit {
		cause := summary.Err
		if cause == nil {
			cause = errors.Newf("all %d processed resources failed", summary.Queued)
		}
		w.observers.ConsecutiveFailureLimitReached(FatalEvent{
			RunID:  summary.RunID,
			Tenant: w.tenant,
			Count:  count,
			Err:    cause,
		})
	}
}

// outcomeOf classifies a finished run. A run fails when it aborted or when
// every queued resource errored.
func outcomeOf(ctx context.Context, summary *RunSummary) RunOutcome {
	switch {
	case summary.Failed() && isCancellation(ctx, summary.Err):
		return OutcomeCancelled
	case summary.Failed() || summary.AllFailed():
		return OutcomeFailed
	default:
		return OutcomeSucceeded
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, errors.ErrStateSaveFailed) {
		return false
	}
	return ctx.Err() != nil || errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func findDuplicate(descriptors []ResourceDescriptor) (string, bool) {
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if _, ok := seen[d.ResourceID]; ok {
			return d.ResourceID, true
		}
		seen[d.ResourceID] = struct{}{}
	}
	return "", false
}
