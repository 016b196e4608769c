package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"groupcast/internal/delivery"
	"groupcast/internal/ops"
	"groupcast/internal/outbox"
	"groupcast/internal/schedule"
	"groupcast/internal/storage"
	"groupcast/internal/transport/telegram"
	"groupcast/pkg/logx"
)

// DeliveryConfig builds and validates the core configuration.
func (c *Config) DeliveryConfig() (delivery.Config, error) {
	out := delivery.DefaultConfig()
	d := c.Delivery
	if d.MaxRetry != nil {
		out.MaxRetry = *d.MaxRetry
	}
	var err error
	if out.RetryDelay, err = durationOr("delivery.retry_delay", d.RetryDelay, out.RetryDelay); err != nil {
		return delivery.Config{}, err
	}
	if out.DedupWindow, err = durationOr("delivery.dedup_window", d.DedupWindow, out.DedupWindow); err != nil {
		return delivery.Config{}, err
	}
	if out.RateLimit, err = durationOr("delivery.rate_limit", d.RateLimit, out.RateLimit); err != nil {
		return delivery.Config{}, err
	}
	if out.CleanupInterval, err = durationOr("delivery.cleanup_interval", d.CleanupInterval, out.CleanupInterval); err != nil {
		return delivery.Config{}, err
	}
	if d.SeqStep != 0 {
		out.SeqStep = d.SeqStep
	}
	if d.QueueSize != 0 {
		out.QueueSize = d.QueueSize
	}
	if err := out.Validate(); err != nil {
		return delivery.Config{}, err
	}
	return out, nil
}

func (c *Config) OutboxConfig(dedupWindow time.Duration, displayID bool) (outbox.Config, error) {
	oc := c.Outbox
	if oc == nil {
		oc = &OutboxConfig{Enabled: true}
	}
	timeout, err := ParseDurationField("outbox.send_timeout", oc.SendTimeout)
	if err != nil {
		return outbox.Config{}, err
	}
	if oc.RatePerSec < 0 {
		return outbox.Config{}, fmt.Errorf("outbox.rate_per_sec must be >= 0")
	}
	return outbox.Config{
		Enabled:         oc.Enabled,
		RatePerSec:      oc.RatePerSec,
		SendTimeout:     timeout,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: oc.DedupMaxEntries,
		PersistDedup:    oc.PersistDedup,
		DisplayID:       displayID,
	}, nil
}

// StorageConfig returns a zero Config (storage disabled) when the section is
// omitted or the driver is "none".
func (c *Config) StorageConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	sc := c.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, nil
	case "file", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	case "redis":
		if strings.TrimSpace(sc.Redis.Addr) == "" {
			return storage.Config{}, fmt.Errorf("storage.redis.addr is required when storage.driver=redis")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := durationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	r := sc.Redis
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
		Redis:       storage.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix},
	}, nil
}

func (c *Config) TelegramConfig() (telegram.Config, error) {
	ttl, err := ParseDurationField("telegram.seq_guard_ttl", c.Telegram.SeqGuardTTL)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(c.Telegram.Token),
		RatePerSec:  c.Telegram.RatePerSec,
		SeqGuardTTL: ttl,
	}, nil
}

func (c *Config) OpsConfig() ops.Config {
	return ops.Config{
		Enabled:       c.Ops.Enabled,
		Addr:          c.Ops.Addr,
		Token:         strings.TrimSpace(c.Ops.Token),
		AllowInsecure: c.Ops.AllowInsecure,
		Pprof:         c.Ops.Pprof,
	}
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:    c.Logging.Level,
		Console:  c.Logging.Console,
		File:     logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			Target:     c.Telegram.GroupLog,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

func (c *Config) ScheduleEntries() ([]schedule.Entry, error) {
	out := make([]schedule.Entry, 0, len(c.Schedules))
	for i, s := range c.Schedules {
		mt := delivery.MsgText
		if strings.TrimSpace(s.MsgType) != "" {
			var err error
			if mt, err = delivery.ParseMsgType(s.MsgType); err != nil {
				return nil, fmt.Errorf("schedules[%d].msg_type: %w", i, err)
			}
		}
		e := schedule.Entry{Name: s.Name, Spec: s.Spec, GroupID: s.Group, Text: s.Text, MsgType: mt}
		if s.MediaURL != "" {
			e.Media = &delivery.Media{URL: s.MediaURL, FileType: s.MediaType}
		}
		out = append(out, e)
	}
	return out, nil
}

// Validate checks everything that can be checked without opening connections.
func (c *Config) Validate() error {
	var errs []error
	dc, err := c.DeliveryConfig()
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := c.OutboxConfig(dc.DedupWindow, c.Telegram.DisplayMsgID); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StorageConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.TelegramConfig(); err != nil {
		errs = append(errs, err)
	}
	if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
		if _, err := telegram.ParseTarget(g); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: %w", err))
		}
	} else if c.Logging.Telegram.Enabled {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.group_log"))
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("logging.telegram.rate_per_sec must be >= 0"))
	}
	entries, err := c.ScheduleEntries()
	if err != nil {
		errs = append(errs, err)
	} else if err := schedule.New(nil).Validate(entries); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
