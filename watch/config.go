package watch

import (
	"time"

	"github.com/teranos/resourcewatch/errors"
)

// Config holds the tunables of a Watcher.
type Config struct {
	// Parallelism bounds how many resources are processed concurrently.
	Parallelism int

	// BanThreshold is the retry count at which a failing resource is banned.
	// Zero disables banning.
	BanThreshold int

	// BanDuration is how long a banned resource is left alone.
	BanDuration time.Duration

	// ConsecutiveFailureLimit is the number of failed runs in a row after which
	// the tenant is escalated. Zero disables the escalation.
	ConsecutiveFailureLimit int

	// RunWarnAfter and ResourceWarnAfter are watchdog thresholds. Crossing them
	// emits a warning only. Zero disables the watchdog.
	RunWarnAfter      time.Duration
	ResourceWarnAfter time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Parallelism:             4,
		BanThreshold:            3,
		BanDuration:             24 * time.Hour,
		ConsecutiveFailureLimit: 5,
		RunWarnAfter:            time.Hour,
		ResourceWarnAfter:       10 * time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Parallelism < 1 {
		return errors.Newf("parallelism must be >= 1, got %d", c.Parallelism)
	}
	if c.BanThreshold < 0 {
		return errors.Newf("ban threshold must be >= 0, got %d", c.BanThreshold)
	}
	if c.BanThreshold > 0 && c.BanDuration <= 0 {
		return errors.Newf("ban duration must be > 0 when banning is enabled, got %s", c.BanDuration)
	}
	if c.ConsecutiveFailureLimit < 0 {
		return errors.Newf("consecutive failure limit must be >= 0, got %d", c.ConsecutiveFailureLimit)
	}
	if c.RunWarnAfter < 0 || c.ResourceWarnAfter < 0 {
		return errors.New("watchdog thresholds must be >= 0")
	}
	return nil
}

// Policy returns the retry/ban policy described by c.
func (c Config) Policy() Policy {
	return Policy{BanThreshold: c.BanThreshold, BanDuration: c.BanDuration}
}
