package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"groupcast/internal/runtime/supervisor"
	"groupcast/pkg/logx"
)

// SweepResult reports one maintenance pass.
type SweepResult struct {
	RateRemoved  int
	QueueRemoved int
	Queued       int
}

// Start launches the maintenance worker. Calling it again while running is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup != nil {
		if c.sup.Context().Err() == nil {
			return
		}
		// The parent context ended; the old worker is gone.
		c.sup = nil
	}
	c.sup = supervisor.New(ctx,
		supervisor.WithLogger(c.log.With(logx.String("comp", "delivery.maintenance"))),
		supervisor.WithCancelOnError(false),
	)
	interval := c.cfg.CleanupInterval
	c.sup.GoRestart("maintenance", func(ctx context.Context) error {
		c.maintenanceLoop(ctx, interval)
		return nil
	})
	c.log.Info("maintenance started", logx.Duration("interval", interval))
}

// Stop cancels the maintenance worker and waits for it (bounded by ctx).
// In-flight sends are not affected.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("maintenance stop", logx.Err(err))
		return
	}
	c.log.Info("maintenance stopped")
}

// Running reports whether the maintenance worker is active. A worker whose
// start context has ended counts as stopped.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sup != nil && c.sup.Context().Err() == nil
}

func (c *Controller) maintenanceLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := c.Sweep(ctx)
			if err != nil {
				c.log.Error("maintenance pass failed", logx.Err(err))
				continue
			}
			if res.RateRemoved > 0 || res.QueueRemoved > 0 {
				c.log.Debug("maintenance pass",
					logx.Int("rate_removed", res.RateRemoved),
					logx.Int("queues_removed", res.QueueRemoved),
					logx.Int("queued", res.Queued),
				)
			}
		}
	}
}

// Sweep runs the rate limiter and queue cleanups concurrently, once.
// A panic in either cleanup is returned as an error.
func (c *Controller) Sweep(ctx context.Context) (SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var res SweepResult
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return guard("rate cleanup", func() { res.RateRemoved = c.limiter.Cleanup() })
	})
	g.Go(func() error {
		return guard("queue cleanup", func() { res.QueueRemoved = c.queue.Cleanup() })
	})
	err := g.Wait()

	res.Queued = c.queue.Total()
	c.metrics.CleanupRemove.WithLabelValues("rate").Add(float64(res.RateRemoved))
	c.metrics.CleanupRemove.WithLabelValues("queue").Add(float64(res.QueueRemoved))
	c.metrics.Queued.Set(float64(res.Queued))
	return res, err
}

func guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	fn()
	return nil
}
