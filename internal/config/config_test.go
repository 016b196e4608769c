package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"groupcast/internal/delivery"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

const minimalJSON = `{
  "telegram": {"token": "abc"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "delivery": {}
}`

const fullYAML = `
telegram:
  token: abc
  rate_per_sec: 10
  seq_guard_ttl: 2m
logging:
  level: debug
  console: false
  file:
    enabled: false
    path: ""
delivery:
  max_retry: 0
  retry_delay: 500ms
  dedup_window: 30s
  seq_step: 2
  rate_limit: 0s
  cleanup_interval: 10s
  queue_size: 50
outbox:
  enabled: true
  rate_per_sec: 5
  send_timeout: 3s
storage:
  driver: file
  path: ./data/dedup
schedules:
  - name: morning
    spec: "08:30"
    group: "-1001"
    text: hello
    msg_type: markdown
`

func TestLoadJSONDefaults(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvOpsToken, "")
	m := NewManager(writeFile(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
	dc, err := cfg.DeliveryConfig()
	if err != nil {
		t.Fatalf("DeliveryConfig: %v", err)
	}
	if dc != delivery.DefaultConfig() {
		t.Fatalf("delivery = %+v, want defaults", dc)
	}
	oc, err := cfg.OutboxConfig(dc.DedupWindow, false)
	if err != nil {
		t.Fatalf("OutboxConfig: %v", err)
	}
	if !oc.Enabled {
		t.Fatalf("omitted outbox section should be enabled")
	}
	sc, err := cfg.StorageConfig()
	if err != nil || sc.Driver != "" {
		t.Fatalf("storage = %+v, %v; want disabled", sc, err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvOpsToken, "")
	cfg, err := NewManager(writeFile(t, "config.yaml", fullYAML)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dc, err := cfg.DeliveryConfig()
	if err != nil {
		t.Fatalf("DeliveryConfig: %v", err)
	}
	want := delivery.Config{
		MaxRetry:        0,
		RetryDelay:      500 * time.Millisecond,
		DedupWindow:     30 * time.Second,
		SeqStep:         2,
		RateLimit:       0,
		CleanupInterval: 10 * time.Second,
		QueueSize:       50,
	}
	if dc != want {
		t.Fatalf("delivery = %+v, want %+v", dc, want)
	}

	tc, err := cfg.TelegramConfig()
	if err != nil {
		t.Fatalf("TelegramConfig: %v", err)
	}
	if tc.Token != "abc" || tc.RatePerSec != 10 || tc.SeqGuardTTL != 2*time.Minute {
		t.Fatalf("telegram = %+v", tc)
	}

	entries, err := cfg.ScheduleEntries()
	if err != nil {
		t.Fatalf("ScheduleEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].MsgType != delivery.MsgMarkdown || entries[0].GroupID != "-1001" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestParseRejects(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvOpsToken, "")
	cases := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "c.json", `{"telegram": {"token": "x"}, "bogus": 1}`},
		{"trailing data", "c.json", `{"telegram": {"token": "x"}} {}`},
		{"bad yaml", "c.yaml", "telegram: [unclosed"},
		{"unknown yaml field", "c.yml", "telegram:\n  token: x\n  nope: 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(writeFile(t, tc.file, tc.body)).Parse(); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	neg := -1
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative retry", Config{Delivery: DeliveryConfig{MaxRetry: &neg}}, "max_retry"},
		{"bad duration", Config{Delivery: DeliveryConfig{RetryDelay: "soon"}}, "delivery.retry_delay"},
		{"short cleanup", Config{Delivery: DeliveryConfig{CleanupInterval: "10ms"}}, "cleanup_interval"},
		{"negative outbox rate", Config{Outbox: &OutboxConfig{Enabled: true, RatePerSec: -1}}, "outbox.rate_per_sec"},
		{"bad schedule", Config{Schedules: []ScheduleConfig{{Name: "a", Spec: "whenever", Group: "g", Text: "t"}}}, "schedules[0]"},
		{"bad msg type", Config{Schedules: []ScheduleConfig{{Name: "a", Spec: "1h", Group: "g", Text: "t", MsgType: "fax"}}}, "msg_type"},
		{"sqlite without path", Config{Storage: &StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"redis without addr", Config{Storage: &StorageConfig{Driver: "redis"}}, "storage.redis.addr"},
		{"unknown driver", Config{Storage: &StorageConfig{Driver: "mongo"}}, "storage.driver"},
		{"media without url", Config{Schedules: []ScheduleConfig{{Name: "a", Spec: "1h", Group: "g", Text: "t", MsgType: "media"}}}, "media"},
		{"log sink without group", Config{Logging: LoggingConfig{Telegram: LoggingTelegram{Enabled: true}}}, "telegram.group_log"},
		{"bad group_log", Config{Telegram: TelegramConfig{GroupLog: "ops-room"}}, "telegram.group_log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestInvalidDeliveryIsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := Config{Delivery: DeliveryConfig{SeqStep: delivery.SeqCeiling}}
	if _, err := cfg.DeliveryConfig(); !errors.Is(err, delivery.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvTelegramToken, "from-env")
	t.Setenv(EnvOpsToken, "ops-env")
	cfg, err := NewManager(writeFile(t, "config.json", minimalJSON)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Ops.Token != "ops-env" {
		t.Fatalf("env not applied: %+v %+v", cfg.Telegram, cfg.Ops)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	t.Setenv(EnvFile, "")
	t.Setenv(EnvOpsToken, "")
	if p, err := LoadEnv(cfgPath); err != nil || p != "" {
		t.Fatalf("missing default .env: path=%q err=%v", p, err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvOpsToken+"=dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv(EnvOpsToken)
	p, err := LoadEnv(cfgPath)
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if p != filepath.Join(dir, ".env") || os.Getenv(EnvOpsToken) != "dotenv" {
		t.Fatalf("path=%q env=%q", p, os.Getenv(EnvOpsToken))
	}

	t.Setenv(EnvFile, filepath.Join(dir, "missing.env"))
	if _, err := LoadEnv(cfgPath); err == nil {
		t.Fatalf("explicit missing env file should fail")
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{"", time.Minute, false},
		{"  ", time.Minute, false},
		{"0s", 0, false},
		{"90s", 90 * time.Second, false},
		{"-1s", 0, true},
		{"later", 0, true},
	}
	for _, tc := range cases {
		got, err := durationOr("x", tc.raw, time.Minute)
		if (err != nil) != tc.err {
			t.Fatalf("%q: err = %v", tc.raw, err)
		}
		if !tc.err && got != tc.want {
			t.Fatalf("%q: got %s want %s", tc.raw, got, tc.want)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Ops: OpsConfig{Token: "secret"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Ops: OpsConfig{Token: "secret"},
		Schedules: []ScheduleConfig{{Name: "x"}}, Delivery: DeliveryConfig{QueueSize: 10}}
	ch := Diff(a, b)
	if got := strings.Join(ch.Sections, ","); got != "delivery,logging,schedules" {
		t.Fatalf("sections = %s", got)
	}
	if got := strings.Join(ch.RestartRequired, ","); got != "delivery" {
		t.Fatalf("restart = %s", got)
	}
	if !ch.Has("logging") || ch.Has("ops") {
		t.Fatalf("Has mismatch: %+v", ch.Sections)
	}
	if len(Diff(b, b).Sections) != 0 {
		t.Fatalf("identical configs should not differ")
	}
}

func TestDiffGroupLogIsHot(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "x"}}
	b := &Config{Telegram: TelegramConfig{Token: "x", GroupLog: "-100:3"}}
	ch := Diff(a, b)
	if !ch.Has("telegram") || len(ch.RestartRequired) != 0 {
		t.Fatalf("sections=%v restart=%v", ch.Sections, ch.RestartRequired)
	}
	b.Telegram.Token = "y"
	if got := strings.Join(Diff(a, b).RestartRequired, ","); got != "telegram" {
		t.Fatalf("token change restart = %q", got)
	}
}

func TestLogConfigCarriesTelegramSink(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Telegram: TelegramConfig{GroupLog: "-100:3"},
		Logging:  LoggingConfig{Telegram: LoggingTelegram{Enabled: true, MinLevel: "error", RatePerSec: 2}},
	}
	lc := cfg.LogConfig()
	if !lc.Telegram.Enabled || lc.Telegram.Target != "-100:3" || lc.Telegram.MinLevel != "error" || lc.Telegram.RatePerSec != 2 {
		t.Fatalf("telegram sink = %+v", lc.Telegram)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvOpsToken, "")
	path := writeFile(t, "config.json", minimalJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	updated := strings.Replace(minimalJSON, `"level": "info"`, `"level": "debug"`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and sees an event.
		if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("subscriber should hold the latest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}
