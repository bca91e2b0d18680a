package orchestrator

import "time"

// Config tunes one Reconciler instance. Every field has a default
// applied by NewReconciler so a zero Config is already runnable.
type Config struct {
	// PollInterval is how often each per-kind worker claims a new batch.
	PollInterval time.Duration

	// ClaimBatchSize is the max targets one worker claims per tick.
	ClaimBatchSize int

	// LeaseWindow is how long a claimed target is invisible to other
	// workers before it's eligible to be reclaimed.
	LeaseWindow time.Duration

	// StuckAfter is how long a target may sit in NEW or IN_PROGRESS
	// before the escalation sweep counts it as a stalled attempt.
	StuckAfter time.Duration

	// MaxAttempts is the count of stuck-sweep detections (ERROR actuals
	// count too) at which the reconciler moves a target to ERROR.
	MaxAttempts int

	// ProjectID scopes every diff query; empty means every project.
	ProjectID string
}

const (
	defaultPollInterval   = 5 * time.Second
	defaultClaimBatchSize = 20
	defaultLeaseWindow    = 30 * time.Second
	defaultStuckAfter     = 60 * time.Second
	defaultMaxAttempts    = 5
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ClaimBatchSize <= 0 {
		c.ClaimBatchSize = defaultClaimBatchSize
	}
	if c.LeaseWindow <= 0 {
		c.LeaseWindow = defaultLeaseWindow
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaultStuckAfter
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}
