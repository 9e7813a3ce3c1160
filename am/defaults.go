package am

import (
	"os"

	"github.com/spf13/viper"
)

// DefaultDirPermissions is used when creating ~/.rw.
const DefaultDirPermissions os.FileMode = 0o755

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "rw.db")

	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 1)
	v.SetDefault("postgres.max_conn_lifetime_seconds", 3600)
	v.SetDefault("postgres.max_conn_idle_seconds", 1800)

	v.SetDefault("watch.parallelism", 4)
	v.SetDefault("watch.ban_threshold", 3)
	v.SetDefault("watch.ban_duration_seconds", 86400) // one day
	v.SetDefault("watch.consecutive_failure_limit", 5)
	v.SetDefault("watch.run_warn_seconds", 3600)
	v.SetDefault("watch.resource_warn_seconds", 600)

	v.SetDefault("pulse.interval_seconds", 300)
	v.SetDefault("pulse.run_on_start", true)
	v.SetDefault("pulse.debounce_ms", 500)

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.requests_per_second", 10.0)
	v.SetDefault("http.burst", 5)
	v.SetDefault("http.retry_initial_ms", 500)
	v.SetDefault("http.retry_max_elapsed_seconds", 120)
	v.SetDefault("http.allow_private", false)
}

// BindSensitiveEnvVars binds secrets that should never live in a config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("postgres.uri", "RW_POSTGRES_URI", "DATABASE_URL")
}

// Defaults returns a Config holding only default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return cfg
}
