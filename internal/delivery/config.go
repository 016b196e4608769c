package delivery

import (
	"fmt"
	"time"
)

// SeqCeiling bounds issued sequence numbers; reaching it wraps back to SeqStep.
const SeqCeiling = 1_000_000

// Config holds the pipeline tunables. It is validated once and then only read.
type Config struct {
	// MaxRetry is the number of generic-error retries per Send (attempts = MaxRetry+1).
	MaxRetry int
	// RetryDelay is the fixed wait between generic-error retries.
	RetryDelay time.Duration
	// DedupWindow is not enforced by this package. It is carried for callers
	// that layer content dedup over the queue (internal/outbox does).
	DedupWindow time.Duration
	// SeqStep is the per-group sequence increment.
	SeqStep int
	// RateLimit is the minimum interval between two sends of identical content
	// to the same group. Zero disables the check.
	RateLimit time.Duration
	// CleanupInterval is the maintenance period.
	CleanupInterval time.Duration
	// QueueSize caps each group's FIFO.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		MaxRetry:        3,
		RetryDelay:      time.Second,
		DedupWindow:     time.Minute,
		SeqStep:         1,
		RateLimit:       time.Second,
		CleanupInterval: time.Minute,
		QueueSize:       1000,
	}
}

// Validate fails fast on values the components cannot work with.
func (c Config) Validate() error {
	switch {
	case c.MaxRetry < 0:
		return fmt.Errorf("%w: max_retry must be >= 0 (got %d)", ErrInvalidConfig, c.MaxRetry)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry_delay must be >= 0 (got %s)", ErrInvalidConfig, c.RetryDelay)
	case c.DedupWindow < 0:
		return fmt.Errorf("%w: dedup_window must be >= 0 (got %s)", ErrInvalidConfig, c.DedupWindow)
	case c.SeqStep < 1:
		return fmt.Errorf("%w: seq_step must be >= 1 (got %d)", ErrInvalidConfig, c.SeqStep)
	case c.SeqStep >= SeqCeiling:
		return fmt.Errorf("%w: seq_step must be < %d (got %d)", ErrInvalidConfig, SeqCeiling, c.SeqStep)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate_limit must be >= 0 (got %s)", ErrInvalidConfig, c.RateLimit)
	case c.CleanupInterval < time.Second:
		return fmt.Errorf("%w: cleanup_interval must be >= 1s (got %s)", ErrInvalidConfig, c.CleanupInterval)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be >= 1 (got %d)", ErrInvalidConfig, c.QueueSize)
	}
	return nil
}
