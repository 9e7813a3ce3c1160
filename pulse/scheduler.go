// Package pulse drives watch runs: one ticker per tenant, manual triggers and
// file change triggers. Runs of one tenant never overlap. Callers of RunNow
// share a run in progress; a trigger arriving during a run schedules exactly
// one follow-up run after it.
package pulse

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/watch"
)

// Runner performs runs for one tenant. *watch.Watcher implements it.
type Runner interface {
	Tenant() string
	RunOnce(ctx context.Context, runType watch.RunType) (*watch.RunSummary, error)
}

// NotifyFunc blocks until ctx is done, calling onChange whenever the tenant's
// resources may have changed.
type NotifyFunc func(ctx context.Context, onChange func()) error

// Job schedules one tenant.
type Job struct {
	Runner   Runner
	Interval time.Duration // zero uses Config.DefaultInterval
	Notify   NotifyFunc    // optional change trigger
}

// Config contains configuration for the Scheduler.
type Config struct {
	DefaultInterval time.Duration
	RunOnStart      bool // run every tenant once right after Start
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultInterval: 5 * time.Minute,
		RunOnStart:      true,
	}
}

type tenantJob struct {
	runner   Runner
	interval time.Duration
	notify   NotifyFunc
}

// Scheduler runs registered tenants until stopped.
type Scheduler struct {
	cfg      Config
	observer watch.Observer
	log      *zap.SugaredLogger
	now      func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*tenantJob
	started bool
	stopped bool
	dirty   map[string]bool // triggered since the tenant's current run started

	flight singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. observer receives the host start event and may be nil.
func New(cfg Config, observer watch.Observer, log *zap.SugaredLogger) *Scheduler {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = DefaultConfig().DefaultInterval
	}
	if observer == nil {
		observer = watch.NopObserver{}
	}
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		observer: observer,
		log:      log.With(logger.FieldComponent, "pulse"),
		now:      time.Now,
		jobs:     make(map[string]*tenantJob),
		dirty:    make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add registers a tenant. Must be called before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Runner == nil {
		return errors.NewInvalidRequestError("job runner is required")
	}
	tenant := job.Runner.Tenant()
	interval := job.Interval
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.Newf("cannot add tenant %s after start", tenant)
	}
	if _, exists := s.jobs[tenant]; exists {
		return errors.NewInvalidRequestError("tenant %s already scheduled", tenant)
	}
	s.jobs[tenant] = &tenantJob{runner: job.Runner, interval: interval, notify: job.Notify}
	return nil
}

// Tenants returns the scheduled tenants, sorted.
func (s *Scheduler) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := make([]string, 0, len(s.jobs))
	for t := range s.jobs {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants
}

// Start emits the host start event and begins scheduling every tenant.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := make(map[string]*tenantJob, len(s.jobs))
	for t, j := range s.jobs {
		jobs[t] = j
	}
	s.mu.Unlock()

	tenants := s.Tenants()
	s.observer.HostStart(watch.HostStartEvent{Tenants: tenants, At: s.now()})

	s.mu.Lock()
	for tenant, job := range jobs {
		if s.stopped {
			break
		}
		s.wg.Add(1)
		go s.loop(tenant, job)

		if job.notify != nil {
			s.wg.Add(1)
			go s.watchChanges(tenant, job.notify)
		}
	}
	s.mu.Unlock()
	s.log.Infow("Pulse scheduler started", logger.FieldCount, len(tenants))
}

// Stop cancels in-flight runs and waits for every loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.log.Infow("Pulse scheduler stopped")
}

// Trigger requests a manual run of tenant without waiting for it. When a
// run is in progress the tenant is marked dirty and runs once more after it.
func (s *Scheduler) Trigger(tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[tenant]; !ok {
		return errors.NewNotFoundError("tenant %s is not scheduled", tenant)
	}
	if s.stopped {
		return errors.New("scheduler stopped")
	}
	s.dirty[tenant] = true
	s.spawnLocked(tenant)
	return nil
}

// spawnLocked starts an async manual run. s.mu must be held.
func (s *Scheduler) spawnLocked(tenant string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _, _ = s.RunNow(s.ctx, tenant, watch.RunManual)
	}()
}

// RunNow runs tenant and waits for the outcome. When a run of tenant is
// already in progress the caller shares its result and shared is true.
func (s *Scheduler) RunNow(ctx context.Context, tenant string, runType watch.RunType) (summary *watch.RunSummary, shared bool, err error) {
	job, ok := s.job(tenant)
	if !ok {
		return nil, false, errors.NewNotFoundError("tenant %s is not scheduled", tenant)
	}

	ch := s.flight.DoChan(tenant, func() (interface{}, error) {
		s.mu.Lock()
		delete(s.dirty, tenant)
		s.mu.Unlock()

		summary, err := job.runner.RunOnce(s.ctx, runType)
		s.followUp(tenant)
		return summary, err
	})
	select {
	case res := <-ch:
		summary, _ = res.Val.(*watch.RunSummary)
		return summary, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// followUp starts one more run when tenant was triggered during the run that
// just finished. The flight is forgotten first so the new run does not join
// the finished one.
func (s *Scheduler) followUp(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty[tenant] || s.stopped {
		return
	}
	delete(s.dirty, tenant)
	s.flight.Forget(tenant)
	s.log.Debugw("Tenant changed during run, running again", logger.FieldTenant, tenant)
	s.spawnLocked(tenant)
}

func (s *Scheduler) job(tenant string) (*tenantJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[tenant]
	return j, ok
}

func (s *Scheduler) loop(tenant string, job *tenantJob) {
	defer s.wg.Done()

	if s.cfg.RunOnStart {
		s.scheduled(tenant)
	}

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scheduled(tenant)
		}
	}
}

func (s *Scheduler) scheduled(tenant string) {
	if s.ctx.Err() != nil {
		return
	}
	_, shared, err := s.RunNow(s.ctx, tenant, watch.RunScheduled)
	if shared {
		s.log.Debugw("Scheduled run joined a run in progress", logger.FieldTenant, tenant)
	}
	if err != nil && s.ctx.Err() == nil {
		// The run itself is reported by observers.
		s.log.Debugw("Scheduled run failed", logger.FieldTenant, tenant, logger.FieldError, err)
	}
}

func (s *Scheduler) watchChanges(tenant string, notify NotifyFunc) {
	defer s.wg.Done()
	err := notify(s.ctx, func() {
		if err := s.Trigger(tenant); err != nil && s.ctx.Err() == nil {
			s.log.Warnw("Failed to trigger run on change", logger.FieldTenant, tenant, logger.FieldError, err)
		}
	})
	if err != nil && s.ctx.Err() == nil {
		s.log.Warnw("Change notifications stopped", logger.FieldTenant, tenant, logger.FieldError, err)
	}
}
