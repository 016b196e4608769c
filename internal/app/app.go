package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"groupcast/internal/config"
	"groupcast/internal/delivery"
	"groupcast/internal/eventbus"
	"groupcast/internal/ops"
	"groupcast/internal/outbox"
	"groupcast/internal/runtime/supervisor"
	"groupcast/internal/schedule"
	"groupcast/internal/storage"
	"groupcast/internal/transport/telegram"
	"groupcast/pkg/logx"
)

// App owns every long-lived component and their start/stop order.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store  storage.Store
	tg     *telegram.Adapter
	ctrl   *delivery.Controller
	outbox *outbox.Service
	sched  *schedule.Service
	ops    *ops.Server
}

// New loads the environment and config file and builds the component graph.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	envPath, err := config.LoadEnv(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, base := logx.New(cfg.LogConfig())
	log := base.With(logx.String("comp", "app"))
	if envPath != "" {
		log.Debug("env file loaded", logx.String("path", envPath))
	}

	dc, err := cfg.DeliveryConfig()
	if err != nil {
		return nil, err
	}
	oc, err := cfg.OutboxConfig(dc.DedupWindow, cfg.Telegram.DisplayMsgID)
	if err != nil {
		return nil, err
	}
	tc, err := cfg.TelegramConfig()
	if err != nil {
		return nil, err
	}
	sc, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	entries, err := cfg.ScheduleEntries()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tg, err := telegram.New(tc, base)
	if err != nil {
		return nil, err
	}
	logs.SetTelegramSender(tg)

	ctrl, err := delivery.NewController(dc,
		delivery.WithLogger(base.With(logx.String("comp", "delivery"))),
		delivery.WithMetrics(delivery.NewMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, base)
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()
	obOpts := []outbox.Option{
		outbox.WithLogger(base.With(logx.String("comp", "outbox"))),
		outbox.WithBus(bus),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
	}
	if store != nil {
		obOpts = append(obOpts, outbox.WithStore(store))
	}
	ob := outbox.New(oc, ctrl, tg, obOpts...)

	sched := schedule.New(ob, schedule.WithLogger(base))
	if err := sched.Apply(entries); err != nil {
		closeStore(store)
		return nil, err
	}
	if len(entries) > 0 && !oc.Enabled {
		log.Warn("schedules are configured but the outbox is disabled; fires will be rejected")
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		bus:    bus,
		reg:    reg,
		store:  store,
		tg:     tg,
		ctrl:   ctrl,
		outbox: ob,
		sched:  sched,
	}
	a.ops = ops.New(cfg.OpsConfig(), reg, ops.WithLogger(base), ops.WithHealth(a.health))
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Controller exposes the delivery core for callers that send synchronously.
func (a *App) Controller() *delivery.Controller { return a.ctrl }

// Outbox is the async submit path used by schedules and embedders.
func (a *App) Outbox() *outbox.Service { return a.outbox }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health(context.Context) error {
	if !a.ctrl.Running() {
		return errors.New("delivery maintenance not running")
	}
	if a.sup != nil && a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject a reload whose restart-only sections no longer build.
		if _, err := cfg.TelegramConfig(); err != nil {
			return err
		}
		_, err := cfg.StorageConfig()
		return err
	})

	a.ctrl.Start(run)
	a.outbox.Start(run)
	if err := a.sched.Start(run); err != nil {
		return err
	}
	if err := a.ops.Start(); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("schedules", len(a.sched.Names())),
		logx.Bool("outbox", a.outbox.Enabled()),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			if ev, ok := e.Data.(outbox.Event); ok {
				fields = append(fields,
					logx.String("group", ev.GroupID),
					logx.String("msg_id", ev.MsgID),
				)
				if ev.Error != "" {
					fields = append(fields, logx.String("err", ev.Error))
				}
			}
			if e.Type == outbox.EventFailed {
				a.log.Warn("event", fields...)
				continue
			}
			a.log.Debug("event", fields...)
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the hot-reloadable sections of next. Restart-only
// sections are logged and otherwise ignored.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") || ch.Has("telegram") {
		a.logs.Apply(next.LogConfig())
	}
	if ch.Has("schedules") {
		entries, err := next.ScheduleEntries()
		if err == nil {
			err = a.sched.Apply(entries)
		}
		if err != nil {
			a.log.Warn("schedules rejected; keeping previous", logx.Err(err))
		}
	}
	if ch.Has("outbox") || ch.Has("telegram") {
		cur := a.ctrl.Config()
		oc, err := next.OutboxConfig(cur.DedupWindow, next.Telegram.DisplayMsgID)
		if err != nil {
			a.log.Warn("outbox config rejected; keeping previous", logx.Err(err))
		} else {
			running := a.outbox.Enabled()
			oc.Enabled = running
			a.outbox.Apply(oc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order: producers first, then
// the outbox drain, the controller, the listener and finally storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.step(ctx, "schedule", 2*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	a.step(ctx, "outbox", 5*time.Second, func(c context.Context) error { a.outbox.Stop(c); return nil })

	a.sup.Cancel()

	a.step(ctx, "delivery", 2*time.Second, func(c context.Context) error { a.ctrl.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn bounded by max (never past ctx's deadline). A step that
// overruns is logged and left behind so the rest of shutdown proceeds.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
