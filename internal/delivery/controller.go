package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupcast/internal/runtime/supervisor"
	"groupcast/pkg/logx"
)

// Transport delivers one attempt to the chat platform.
//
// Errors wrapping ErrDuplicateSequence make the Controller reset the group's
// sequence and retry once; errors wrapping ErrFatal stop retries. Anything
// else is retried up to Config.MaxRetry times.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, d Delivery) error

func (f TransportFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }

type Option func(*Controller)

func WithLogger(log logx.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// SendOption tunes one Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	displayID bool
}

// WithDisplayID appends a short random suffix to the content of each attempt.
// Use it when the platform echoes message ids and identical text would
// otherwise render as duplicates.
func WithDisplayID(enabled bool) SendOption {
	return func(o *sendOptions) { o.displayID = enabled }
}

// Controller owns the per-group components and runs the send/retry policy.
// It is safe for concurrent use.
type Controller struct {
	cfg     Config
	log     logx.Logger
	metrics *Metrics

	seq     *Sequencer
	limiter *RateLimiter
	queue   *Queue

	suffix func() string
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

// NewController validates cfg and builds the components.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:     cfg,
		seq:     NewSequencer(cfg.SeqStep),
		limiter: NewRateLimiter(cfg.RateLimit),
		queue:   NewQueue(cfg.QueueSize),
		suffix:  randomSuffix,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c, nil
}

func (c *Controller) Config() Config { return c.cfg }
func (c *Controller) Sequencer() *Sequencer { return c.seq }
func (c *Controller) RateLimiter() *RateLimiter { return c.limiter }
func (c *Controller) Queue() *Queue { return c.queue }

// Enqueue puts m on its group's queue and counts rejections.
func (c *Controller) Enqueue(m Message) error {
	err := c.queue.Enqueue(m)
	if errors.Is(err, ErrQueueFull) {
		c.metrics.QueueRejects.Inc()
		c.log.Warn("queue full; message rejected", logx.String("group", m.GroupID), logx.String("msg_id", m.MsgID), logx.Int("queue_size", c.cfg.QueueSize))
	}
	return err
}

// Send delivers m through t and reports whether it got through.
// Failures are logged; use SendErr to get the reason.
func (c *Controller) Send(ctx context.Context, m *Message, t Transport, opts ...SendOption) bool {
	err := c.SendErr(ctx, m, t, opts...)
	if err != nil && IsValidation(err) {
		c.log.Error("send rejected: invalid message", logx.Err(err))
	}
	return err == nil
}

// SendErr runs the send policy and returns nil on success or the terminal error.
//
// Attempts are bounded by MaxRetry+2: the initial attempt, at most one
// immediate retry after a duplicate-sequence reset, and MaxRetry delayed retries.
func (c *Controller) SendErr(ctx context.Context, m *Message, t Transport, opts ...SendOption) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.Validate(); err != nil {
		c.metrics.Sends.WithLabelValues(OutcomeInvalid).Inc()
		return err
	}
	if t == nil {
		c.metrics.Sends.WithLabelValues(OutcomeFailed).Inc()
		return Fatal(errors.New("nil transport"))
	}
	var o sendOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	log := c.log.With(logx.String("group", m.GroupID), logx.String("msg_id", m.MsgID))

	if err := ctx.Err(); err != nil {
		c.metrics.Sends.WithLabelValues(OutcomeFailed).Inc()
		return err
	}
	if err := c.limiter.Check(m.GroupID, m.Content); err != nil {
		c.metrics.Sends.WithLabelValues(OutcomeRateLimited).Inc()
		log.Debug("send rate limited", logx.Duration("window", c.cfg.RateLimit))
		return err
	}

	maxAttempts := c.cfg.MaxRetry + 2
	resetDone := false
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		m.Seq = c.seq.Next(m.GroupID)
		content := m.Content
		if o.displayID {
			content += c.suffix()
		}
		err := t.Deliver(ctx, Delivery{
			GroupID: m.GroupID,
			MsgType: m.MsgType,
			Content: content,
			Seq:     m.Seq,
			MsgID:   m.MsgID,
			Media:   m.Media,
		})
		if err == nil {
			c.metrics.Sends.WithLabelValues(OutcomeSent).Inc()
			log.Debug("message sent", logx.Int("seq", m.Seq), logx.Int("attempt", attempt), logx.Int("retry_count", m.RetryCount))
			return nil
		}
		lastErr = err

		if IsDuplicateSequence(err) && !resetDone {
			resetDone = true
			c.seq.Reset(m.GroupID)
			c.metrics.SeqResets.Inc()
			log.Warn("duplicate sequence rejected; resetting", logx.Int("seq", m.Seq), logx.Int("attempt", attempt), logx.Err(err))
			continue
		}
		if IsFatal(err) {
			log.Error("send failed (fatal)", logx.Int("seq", m.Seq), logx.Int("attempt", attempt), logx.Err(err))
			c.metrics.Sends.WithLabelValues(OutcomeFailed).Inc()
			return err
		}
		if m.RetryCount >= c.cfg.MaxRetry {
			break
		}
		m.RetryCount++
		c.metrics.Retries.Inc()
		log.Warn("send failed; retrying",
			logx.Int("seq", m.Seq),
			logx.Int("attempt", attempt),
			logx.Int("retry_count", m.RetryCount),
			logx.Int("max_retry", c.cfg.MaxRetry),
			logx.Duration("delay", c.cfg.RetryDelay),
			logx.Err(err),
		)
		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	c.metrics.Sends.WithLabelValues(OutcomeFailed).Inc()
	log.Error("send failed", logx.Int("seq", m.Seq), logx.Int("attempts", attempt), logx.Int("retry_count", m.RetryCount), logx.Err(lastErr))
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomSuffix() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return " #" + id[:6]
}
