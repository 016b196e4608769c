package outbox

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"groupcast/internal/delivery"
	"groupcast/internal/eventbus"
	rtsup "groupcast/internal/runtime/supervisor"
	"groupcast/internal/storage"
	"groupcast/pkg/logx"
)

type dedupWrite struct {
	key   string
	until time.Time
}

// Service decouples producers from delivery: Submit enqueues on the
// Controller's group queue and a single drain worker per group sends in
// FIFO order through the Controller.
//
// It is safe for concurrent use.
type Service struct {
	// life serializes Start and Stop.
	life sync.Mutex

	mu        sync.Mutex
	log       logx.Logger
	ctrl      *delivery.Controller
	transport delivery.Transport
	bus       eventbus.Bus
	store     storage.Store
	metrics   *Metrics

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	submitWG  sync.WaitGroup
	drainWG   sync.WaitGroup
	draining  map[string]bool
	sup       *rtsup.Supervisor
	persistCh chan dedupWrite

	dmu   sync.Mutex
	dedup map[string]time.Time

	now func() time.Time
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }
func WithStore(st storage.Store) Option { return func(s *Service) { s.store = st } }
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }
func withClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, ctrl *delivery.Controller, t delivery.Transport, opts ...Option) *Service {
	s := &Service{
		ctrl:      ctrl,
		transport: t,
		draining:  map[string]bool{},
		dedup:     map[string]time.Time{},
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps tunables at runtime. Enabling or disabling takes effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 5000
	}
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start begins accepting submissions. It is idempotent and a no-op when the
// outbox is disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		ch := make(chan dedupWrite, 1024)
		s.persistCh = ch
		st := s.store
		s.sup.Go0("dedup.persist", func(c context.Context) { s.persistLoop(c, ch, st) })
	}
	s.log.Info("outbox started", logx.Int("rate_per_sec", s.cfg.RatePerSec), logx.Duration("dedup_window", s.cfg.DedupWindow))
}

// Stop refuses new submissions and waits for drain workers to empty their
// queues. When ctx ends first the workers are cancelled and messages still
// queued stay on the Controller's queue.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	sup := s.sup
	if sup == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	pch := s.persistCh
	s.mu.Unlock()

	s.submitWG.Wait()

	done := make(chan struct{})
	go func() {
		s.drainWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("outbox stop timed out; cancelling drains", logx.Int("pending", s.ctrl.Queue().Total()))
		sup.Cancel()
		<-done
	}

	if pch != nil {
		close(pch)
	}
	_ = sup.Wait(ctx)
	sup.Cancel()

	s.mu.Lock()
	s.sup = nil
	s.persistCh = nil
	s.mu.Unlock()
	s.log.Info("outbox stopped")
}

// Submit validates m, applies the dedup window and queues it for delivery.
func (s *Service) Submit(ctx context.Context, m delivery.Message) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.accepting || !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg := s.cfg
	pch := s.persistCh
	st := s.store
	s.submitWG.Add(1)
	s.mu.Unlock()
	defer s.submitWG.Done()

	if err := m.Validate(); err != nil {
		s.metrics.Submits.WithLabelValues("invalid").Inc()
		return err
	}

	var key string
	if cfg.DedupWindow > 0 {
		key = dedupKey(m)
		if !s.dedupAllow(ctx, key, cfg, st, pch) {
			s.metrics.Submits.WithLabelValues("deduped").Inc()
			s.publish(EventDeduped, m, key, nil)
			return ErrDuplicate
		}
	}

	if err := s.ctrl.Enqueue(m); err != nil {
		if key != "" {
			s.forget(key)
		}
		s.metrics.Submits.WithLabelValues("dropped").Inc()
		s.publish(EventDropped, m, key, err)
		return err
	}
	s.metrics.Submits.WithLabelValues("queued").Inc()
	s.publish(EventQueued, m, key, nil)
	s.ensureDrain(m.GroupID)
	return nil
}

// ensureDrain starts the group's drain worker unless one is running. The
// worker clears its flag under s.mu only after seeing an empty queue, so a
// message enqueued before this call is never stranded.
func (s *Service) ensureDrain(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining[group] || s.sup == nil {
		return
	}
	s.draining[group] = true
	s.drainWG.Add(1)
	s.metrics.Drains.Inc()
	s.sup.Go0("drain", func(ctx context.Context) {
		defer s.drainWG.Done()
		s.drain(ctx, group)
	})
}

func (s *Service) drain(ctx context.Context, group string) {
	q := s.ctrl.Queue()
	for {
		s.mu.Lock()
		var (
			m  delivery.Message
			ok bool
		)
		if ctx.Err() == nil {
			m, ok = q.Dequeue(group)
		}
		if !ok {
			delete(s.draining, group)
			s.metrics.Drains.Dec()
			s.mu.Unlock()
			return
		}
		cfg := s.cfg
		lim := s.limiter
		s.mu.Unlock()

		s.send(ctx, cfg, lim, m)
	}
}

func (s *Service) send(ctx context.Context, cfg Config, lim *rate.Limiter, m delivery.Message) {
	if err := lim.Wait(ctx); err != nil {
		s.publish(EventFailed, m, "", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := s.ctrl.SendErr(callCtx, &m, s.transport, delivery.WithDisplayID(cfg.DisplayID))
	cancel()
	if err != nil {
		s.log.Warn("outbox send failed", logx.String("group", m.GroupID), logx.String("msg_id", m.MsgID), logx.Err(err))
		s.publish(EventFailed, m, "", err)
		return
	}
	s.publish(EventSent, m, "", nil)
}

func (s *Service) publish(typ string, m delivery.Message, key string, err error) {
	if s.bus == nil {
		return
	}
	now := s.now()
	ev := Event{GroupID: m.GroupID, MsgID: m.MsgID, MsgType: m.MsgType.String(), Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func dedupKey(m delivery.Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.GroupID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.MsgType.String()))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.Content))
	return fmt.Sprintf("%016x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, st storage.Store, pch chan<- dedupWrite) bool {
	now := s.now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && st != nil {
		qctx := ctx
		if qctx == nil {
			qctx = context.Background()
		}
		cctx, cancel := context.WithTimeout(qctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Debug("dedup lookup failed", logx.Err(err))
		}
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	pruneDedup(s.dedup, now, cfg.DedupMaxEntries)
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

func (s *Service) forget(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

// pruneDedup drops expired entries, then evicts earliest expiries until the
// map fits max.
func pruneDedup(m map[string]time.Time, now time.Time, max int) {
	for k, until := range m {
		if !now.Before(until) {
			delete(m, k)
		}
	}
	for max > 0 && len(m) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range m {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		delete(m, minKey)
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}
