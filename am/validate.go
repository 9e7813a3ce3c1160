package am

import (
	"github.com/teranos/resourcewatch/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Zero parallelism would never process anything
	if c.Watch.Parallelism < 1 {
		return errors.Newf("watch.parallelism must be >= 1, got %d", c.Watch.Parallelism)
	}
	// 0 = banning disabled
	if c.Watch.BanThreshold < 0 {
		return errors.Newf("watch.ban_threshold must be >= 0, got %d", c.Watch.BanThreshold)
	}
	if c.Watch.BanThreshold > 0 && c.Watch.BanDurationSeconds <= 0 {
		return errors.Newf("watch.ban_duration_seconds must be > 0 when banning is enabled, got %d", c.Watch.BanDurationSeconds)
	}
	// 0 = escalation disabled
	if c.Watch.ConsecutiveFailureLimit < 0 {
		return errors.Newf("watch.consecutive_failure_limit must be >= 0, got %d", c.Watch.ConsecutiveFailureLimit)
	}
	// 0 = watchdog disabled
	if c.Watch.RunWarnSeconds < 0 || c.Watch.ResourceWarnSeconds < 0 {
		return errors.New("watch watchdog thresholds must be >= 0")
	}

	if c.Pulse.IntervalSeconds <= 0 {
		return errors.Newf("pulse.interval_seconds must be > 0, got %d", c.Pulse.IntervalSeconds)
	}
	if c.Pulse.DebounceMS < 0 {
		return errors.Newf("pulse.debounce_ms must be >= 0, got %d", c.Pulse.DebounceMS)
	}

	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.Newf("http.timeout_seconds must be > 0, got %d", c.HTTP.TimeoutSeconds)
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.Newf("http.requests_per_second must be >= 0, got %f", c.HTTP.RequestsPerSecond)
	}
	if c.HTTP.Burst < 0 || c.HTTP.RetryInitialMS < 0 || c.HTTP.RetryMaxElapsedSeconds < 0 {
		return errors.New("http burst and retry settings must be >= 0")
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		if err := t.validate(c); err != nil {
			return errors.Wrapf(err, "tenants[%d]", i)
		}
		if seen[t.Name] {
			return errors.Newf("duplicate tenant name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

func (t TenantConfig) validate(c *Config) error {
	if t.Name == "" {
		return errors.New("name cannot be empty")
	}
	if t.IntervalSeconds < 0 {
		return errors.Newf("tenant %s: interval_seconds must be >= 0, got %d", t.Name, t.IntervalSeconds)
	}

	switch t.Source.Kind {
	case SourceFS:
		if t.Source.Root == "" {
			return errors.Newf("tenant %s: source.root is required for fs sources", t.Name)
		}
	case SourceHTTP:
		if t.Source.URL == "" {
			return errors.Newf("tenant %s: source.url is required for http sources", t.Name)
		}
		if t.WatchChanges {
			return errors.Newf("tenant %s: watch_changes is only supported for fs sources", t.Name)
		}
	default:
		return errors.Newf("tenant %s: unknown source kind %q", t.Name, t.Source.Kind)
	}

	if t.Action.Kind == "" {
		return errors.Newf("tenant %s: action.kind is required", t.Name)
	}

	switch t.StoreKind() {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.Postgres.URI == "" {
			return errors.Newf("tenant %s: postgres store requires postgres.uri", t.Name)
		}
	default:
		return errors.Newf("tenant %s: unknown store kind %q", t.Name, t.Store)
	}
	return nil
}
