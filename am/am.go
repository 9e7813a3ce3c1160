// Package am holds the resourcewatch configuration: defaults, file and
// environment loading through viper, validation and a reload watcher.
//
// Precedence, lowest first: defaults, /etc/rw/am.toml, ~/.rw/am.toml, the
// nearest am.toml found walking up from the working directory, RW_* env vars.
package am

import "time"

// Source kinds.
const (
	SourceFS   = "fs"
	SourceHTTP = "http"
)

// Store kinds.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Postgres PostgresConfig `mapstructure:"postgres" toml:"postgres" json:"postgres" yaml:"postgres"`
	Watch    WatchConfig    `mapstructure:"watch" toml:"watch" json:"watch" yaml:"watch"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
	HTTP     HTTPConfig     `mapstructure:"http" toml:"http" json:"http" yaml:"http"`
	Tenants  []TenantConfig `mapstructure:"tenants" toml:"tenants" json:"tenants" yaml:"tenants"`
}

// DatabaseConfig configures the local SQLite database holding state and run history.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// PostgresConfig configures the shared state store.
type PostgresConfig struct {
	URI                    string `mapstructure:"uri" toml:"uri" json:"uri" yaml:"uri"`
	MaxConns               int32  `mapstructure:"max_conns" toml:"max_conns" json:"max_conns" yaml:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns" toml:"min_conns" json:"min_conns" yaml:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds" toml:"max_conn_lifetime_seconds" json:"max_conn_lifetime_seconds" yaml:"max_conn_lifetime_seconds"`
	MaxConnIdleSeconds     int    `mapstructure:"max_conn_idle_seconds" toml:"max_conn_idle_seconds" json:"max_conn_idle_seconds" yaml:"max_conn_idle_seconds"`
}

// WatchConfig holds the engine tunables shared by every tenant.
type WatchConfig struct {
	Parallelism             int `mapstructure:"parallelism" toml:"parallelism" json:"parallelism" yaml:"parallelism"`
	BanThreshold            int `mapstructure:"ban_threshold" toml:"ban_threshold" json:"ban_threshold" yaml:"ban_threshold"`
	BanDurationSeconds      int `mapstructure:"ban_duration_seconds" toml:"ban_duration_seconds" json:"ban_duration_seconds" yaml:"ban_duration_seconds"`
	ConsecutiveFailureLimit int `mapstructure:"consecutive_failure_limit" toml:"consecutive_failure_limit" json:"consecutive_failure_limit" yaml:"consecutive_failure_limit"`
	RunWarnSeconds          int `mapstructure:"run_warn_seconds" toml:"run_warn_seconds" json:"run_warn_seconds" yaml:"run_warn_seconds"`
	ResourceWarnSeconds     int `mapstructure:"resource_warn_seconds" toml:"resource_warn_seconds" json:"resource_warn_seconds" yaml:"resource_warn_seconds"`
}

// PulseConfig configures the scheduler.
type PulseConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds" toml:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds"`
	RunOnStart      bool `mapstructure:"run_on_start" toml:"run_on_start" json:"run_on_start" yaml:"run_on_start"`
	DebounceMS      int  `mapstructure:"debounce_ms" toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// HTTPConfig configures remote sources.
type HTTPConfig struct {
	TimeoutSeconds         int     `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second" toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	Burst                  int     `mapstructure:"burst" toml:"burst" json:"burst" yaml:"burst"`
	RetryInitialMS         int     `mapstructure:"retry_initial_ms" toml:"retry_initial_ms" json:"retry_initial_ms" yaml:"retry_initial_ms"`
	RetryMaxElapsedSeconds int     `mapstructure:"retry_max_elapsed_seconds" toml:"retry_max_elapsed_seconds" json:"retry_max_elapsed_seconds" yaml:"retry_max_elapsed_seconds"`
	AllowPrivate           bool    `mapstructure:"allow_private" toml:"allow_private" json:"allow_private" yaml:"allow_private"`
}

// TenantConfig describes one watched tenant.
type TenantConfig struct {
	Name            string       `mapstructure:"name" toml:"name" json:"name" yaml:"name"`
	IntervalSeconds int          `mapstructure:"interval_seconds" toml:"interval_seconds,omitempty" json:"interval_seconds,omitempty" yaml:"interval_seconds,omitempty"`
	Store           string       `mapstructure:"store" toml:"store,omitempty" json:"store,omitempty" yaml:"store,omitempty"`
	WatchChanges    bool         `mapstructure:"watch_changes" toml:"watch_changes,omitempty" json:"watch_changes,omitempty" yaml:"watch_changes,omitempty"`
	Source          SourceConfig `mapstructure:"source" toml:"source" json:"source" yaml:"source"`
	Action          ActionConfig `mapstructure:"action" toml:"action" json:"action" yaml:"action"`
}

// SourceConfig selects and configures a tenant source.
type SourceConfig struct {
	Kind  string `mapstructure:"kind" toml:"kind" json:"kind" yaml:"kind"`
	Root  string `mapstructure:"root" toml:"root,omitempty" json:"root,omitempty" yaml:"root,omitempty"`
	URL   string `mapstructure:"url" toml:"url,omitempty" json:"url,omitempty" yaml:"url,omitempty"`
	Token string `mapstructure:"token" toml:"token,omitempty" json:"-" yaml:"-"`
}

// ActionConfig selects and configures a tenant action.
type ActionConfig struct {
	Kind     string         `mapstructure:"kind" toml:"kind" json:"kind" yaml:"kind"`
	Settings map[string]any `mapstructure:"settings" toml:"settings,omitempty" json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Seconds converts a whole-second config value.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// BanDuration returns the ban cooldown.
func (w WatchConfig) BanDuration() time.Duration { return Seconds(w.BanDurationSeconds) }

// RunWarnAfter returns the run watchdog threshold.
func (w WatchConfig) RunWarnAfter() time.Duration { return Seconds(w.RunWarnSeconds) }

// ResourceWarnAfter returns the per-resource watchdog threshold.
func (w WatchConfig) ResourceWarnAfter() time.Duration { return Seconds(w.ResourceWarnSeconds) }

// Interval returns the default schedule interval.
func (p PulseConfig) Interval() time.Duration { return Seconds(p.IntervalSeconds) }

// Debounce returns the change notification debounce period.
func (p PulseConfig) Debounce() time.Duration { return time.Duration(p.DebounceMS) * time.Millisecond }

// Timeout returns the HTTP request timeout.
func (h HTTPConfig) Timeout() time.Duration { return Seconds(h.TimeoutSeconds) }

// RetryInitial returns the first retry backoff.
func (h HTTPConfig) RetryInitial() time.Duration { return time.Duration(h.RetryInitialMS) * time.Millisecond }

// RetryMaxElapsed returns the total retry budget of one request.
func (h HTTPConfig) RetryMaxElapsed() time.Duration { return Seconds(h.RetryMaxElapsedSeconds) }

// Interval returns the tenant interval, falling back to def.
func (t TenantConfig) Interval(def time.Duration) time.Duration {
	if t.IntervalSeconds > 0 {
		return Seconds(t.IntervalSeconds)
	}
	return def
}

// StoreKind returns the tenant store kind, defaulting to SQLite.
func (t TenantConfig) StoreKind() string {
	if t.Store == "" {
		return StoreSQLite
	}
	return t.Store
}

// Tenant returns the named tenant.
func (c *Config) Tenant(name string) (TenantConfig, bool) {
	for _, t := range c.Tenants {
		if t.Name == name {
			return t, true
		}
	}
	return TenantConfig{}, false
}

// GetDatabasePath returns the configured SQLite path.
func (c *Config) GetDatabasePath() string {
	return c.Database.Path
}
