package app

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"testing"
	"time"

	"groupcast/internal/config"
)

const baseConfig = `{
  "telegram": {"token": "123:test"},
  "logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}},
  "delivery": {"cleanup_interval": "1s"},
  "storage": {"driver": "file", "path": "%DIR%/dedup"},
  "schedules": [
    {"name": "daily", "spec": "09:00", "group": "-100:7", "text": "standup"}
  ]
}`

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	t.Setenv(config.EnvFile, "")
	t.Setenv(config.EnvTelegramToken, "")
	t.Setenv(config.EnvOpsToken, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := strings.ReplaceAll(baseConfig, "%DIR%", filepath.ToSlash(dir))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, path
}

func TestAppStartStop(t *testing.T) {
	a, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.health(ctx); err != nil {
		t.Fatalf("health after start: %v", err)
	}
	if !a.Outbox().Enabled() {
		t.Fatalf("outbox should default to enabled")
	}
	if got := a.sched.Names(); len(got) != 1 || got[0] != "daily" {
		t.Fatalf("schedules = %v", got)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done should be closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if a.Controller().Running() {
		t.Fatalf("maintenance still running after Stop")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	t.Setenv(config.EnvTelegramToken, "")
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"telegram": {"token": "x"}, "delivery": {"seq_step": 0, "queue_size": -1}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatalf("expected error for negative queue_size")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	t.Setenv(config.EnvTelegramToken, "")
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram": {"token": ""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("err = %v, want token error", err)
	}
}

func TestApplyConfigHotSections(t *testing.T) {
	a, _ := newTestApp(t)
	prev := a.cfgm.Get()

	next := *prev
	next.Schedules = []config.ScheduleConfig{
		{Name: "a", Spec: "1h", Group: "-1", Text: "x"},
		{Name: "b", Spec: "cron:0 8 * * 1", Group: "-2", Text: "y"},
	}
	next.Outbox = &config.OutboxConfig{Enabled: false, RatePerSec: 3}
	a.applyConfig(prev, &next)

	names := a.sched.Names()
	sort.Strings(names)
	if strings.Join(names, ",") != "a,b" {
		t.Fatalf("schedules = %v", names)
	}
	if !a.outbox.Enabled() {
		t.Fatalf("outbox enable flag must not change without a restart")
	}

	bad := next
	bad.Schedules = []config.ScheduleConfig{{Name: "c", Spec: "nope", Group: "-1", Text: "x"}}
	a.applyConfig(&next, &bad)
	names = a.sched.Names()
	sort.Strings(names)
	if strings.Join(names, ",") != "a,b" {
		t.Fatalf("invalid reload replaced schedules: %v", names)
	}
	_ = a.store.Close()
}

func TestReasonFromSignal(t *testing.T) {
	t.Parallel()
	cases := map[os.Signal]StopReason{
		os.Interrupt:    StopSIGINT,
		syscall.SIGTERM: StopSIGTERM,
		syscall.SIGHUP:  StopUnknown,
		nil:             StopContext,
	}
	for sig, want := range cases {
		if got := ReasonFromSignal(sig); got != want {
			t.Fatalf("ReasonFromSignal(%v) = %s, want %s", sig, got, want)
		}
	}
}
