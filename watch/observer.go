package watch

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/resourcewatch/logger"
)

// HostStartEvent is emitted once when a host starts watching tenants.
type HostStartEvent struct {
	Tenants []string
	At      time.Time
}

// RunStartEvent opens a run.
type RunStartEvent struct {
	RunID   string
	Tenant  string
	RunType RunType
	At      time.Time
}

// ListStartEvent precedes the Source listing.
type ListStartEvent struct {
	RunID  string
	Tenant string
}

// ListStopEvent follows the Source listing.
type ListStopEvent struct {
	RunID   string
	Tenant  string
	Count   int
	Elapsed time.Duration
	Err     error
}

// ClassifyStopEvent carries the per-classification counts of a run.
type ClassifyStopEvent struct {
	RunID   string
	Tenant  string
	Counts  map[ProcessType]int
	Elapsed time.Duration
}

// ResourceEvent brackets the processing of one resource. Banned is set on
// stop when the resulting state is banned.
type ResourceEvent struct {
	RunID   string
	Tenant  string
	Context *ProcessContext
	Banned  bool
	Elapsed time.Duration
}

// SlowEvent is a watchdog warning. ResourceID is empty for runs.
type SlowEvent struct {
	RunID      string
	Tenant     string
	ResourceID string
	Elapsed    time.Duration
	Threshold  time.Duration
}

// FatalEvent reports a run-fatal or escalated condition.
type FatalEvent struct {
	RunID      string
	Tenant     string
	ResourceID string
	Count      int
	Err        error
}

// Observer receives the structured events of the watch engine. Every call is
// synchronous; implementations must be safe for concurrent use because
// resource events arrive from worker goroutines.
type Observer interface {
	HostStart(HostStartEvent)
	RunStart(RunStartEvent)
	RunStop(*RunSummary)
	ListStart(ListStartEvent)
	ListStop(ListStopEvent)
	ClassifyStop(ClassifyStopEvent)
	ResourceStart(ResourceEvent)
	ResourceStop(ResourceEvent)
	RunTookTooLong(SlowEvent)
	ResourceTookTooLong(SlowEvent)
	DuplicateResourceID(FatalEvent)
	StateSaveFailed(FatalEvent)
	ConsecutiveFailureLimitReached(FatalEvent)
}

// NopObserver implements Observer with no-ops. Embed it to implement only the
// events you care about.
type NopObserver struct{}

func (NopObserver) HostStart(HostStartEvent)                  {}
func (NopObserver) RunStart(RunStartEvent)                    {}
func (NopObserver) RunStop(*RunSummary)                       {}
func (NopObserver) ListStart(ListStartEvent)                  {}
func (NopObserver) ListStop(ListStopEvent)                    {}
func (NopObserver) ClassifyStop(ClassifyStopEvent)            {}
func (NopObserver) ResourceStart(ResourceEvent)               {}
func (NopObserver) ResourceStop(ResourceEvent)                {}
func (NopObserver) RunTookTooLong(SlowEvent)                  {}
func (NopObserver) ResourceTookTooLong(SlowEvent)             {}
func (NopObserver) DuplicateResourceID(FatalEvent)            {}
func (NopObserver) StateSaveFailed(FatalEvent)                {}
func (NopObserver) ConsecutiveFailureLimitReached(FatalEvent) {}

// Observers fans every event out to each member in order. A panicking member
// is logged and does not stop delivery to the others.
type Observers struct {
	members []Observer
	log     *zap.SugaredLogger
}

// NewObservers creates a fan-out logging member panics on log.
func NewObservers(log *zap.SugaredLogger, members ...Observer) *Observers {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Observers{members: members, log: log}
}

func (o *Observers) each(event string, fn func(Observer)) {
	for _, obs := range o.members {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.log.Errorw("Observer panicked",
						"event", event,
						logger.FieldError, fmt.Sprint(r))
				}
			}()
			fn(obs)
		}()
	}
}

func (o *Observers) HostStart(e HostStartEvent) {
	o.each("host_start", func(x Observer) { x.HostStart(e) })
}
func (o *Observers) RunStart(e RunStartEvent) {
	o.each("run_start", func(x Observer) { x.RunStart(e) })
}
func (o *Observers) RunStop(s *RunSummary) {
	o.each("run_stop", func(x Observer) { x.RunStop(s) })
}
func (o *Observers) ListStart(e ListStartEvent) {
	o.each("list_start", func(x Observer) { x.ListStart(e) })
}
func (o *Observers) ListStop(e ListStopEvent) {
	o.each("list_stop", func(x Observer) { x.ListStop(e) })
}
func (o *Observers) ClassifyStop(e ClassifyStopEvent) {
	o.each("classify_stop", func(x Observer) { x.ClassifyStop(e) })
}
func (o *Observers) ResourceStart(e ResourceEvent) {
	o.each("resource_start", func(x Observer) { x.ResourceStart(e) })
}
func (o *Observers) ResourceStop(e ResourceEvent) {
	o.each("resource_stop", func(x Observer) { x.ResourceStop(e) })
}
func (o *Observers) RunTookTooLong(e SlowEvent) {
	o.each("run_took_too_long", func(x Observer) { x.RunTookTooLong(e) })
}
func (o *Observers) ResourceTookTooLong(e SlowEvent) {
	o.each("resource_took_too_long", func(x Observer) { x.ResourceTookTooLong(e) })
}
func (o *Observers) DuplicateResourceID(e FatalEvent) {
	o.each("duplicate_resource_id", func(x Observer) { x.DuplicateResourceID(e) })
}
func (o *Observers) StateSaveFailed(e FatalEvent) {
	o.each("state_save_failed", func(x Observer) { x.StateSaveFailed(e) })
}
func (o *Observers) ConsecutiveFailureLimitReached(e FatalEvent) {
	o.each("consecutive_failure_limit_reached", func(x Observer) { x.ConsecutiveFailureLimitReached(e) })
}
