package delivery

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "zero retry and window", mutate: func(c *Config) { c.MaxRetry = 0; c.RateLimit = 0; c.RetryDelay = 0 }, ok: true},
		{name: "negative retry", mutate: func(c *Config) { c.MaxRetry = -1 }},
		{name: "negative delay", mutate: func(c *Config) { c.RetryDelay = -time.Second }},
		{name: "negative dedup", mutate: func(c *Config) { c.DedupWindow = -time.Second }},
		{name: "zero step", mutate: func(c *Config) { c.SeqStep = 0 }},
		{name: "step at ceiling", mutate: func(c *Config) { c.SeqStep = SeqCeiling }},
		{name: "negative rate", mutate: func(c *Config) { c.RateLimit = -1 }},
		{name: "sub-second cleanup", mutate: func(c *Config) { c.CleanupInterval = 500 * time.Millisecond }},
		{name: "zero queue", mutate: func(c *Config) { c.QueueSize = 0 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseMsgType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want MsgType
	}{
		{"", MsgText}, {"text", MsgText}, {"Markdown", MsgMarkdown}, {"2", MsgMarkdown},
		{"ark", MsgArk}, {"4", MsgEmbed}, {"media", MsgMedia},
	}
	for _, tt := range tests {
		got, err := ParseMsgType(tt.raw)
		if err != nil || got != tt.want {
			t.Fatalf("ParseMsgType(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
	if _, err := ParseMsgType("sticker"); !errors.Is(err, ErrInvalidMessageType) {
		t.Fatalf("err = %v, want ErrInvalidMessageType", err)
	}
}

func TestMediaMessageNeedsURL(t *testing.T) {
	t.Parallel()
	m := Message{GroupID: "g", MsgType: MsgMedia, Content: "pic", MsgID: "1"}
	if err := m.Validate(); !errors.Is(err, ErrMissingMedia) {
		t.Fatalf("err = %v, want ErrMissingMedia", err)
	}
	m.Media = &Media{URL: "https://example.org/a.png"}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewMessageStampsTime(t *testing.T) {
	t.Parallel()
	m, err := NewMessage("g", MsgText, "hi", "id")
	if err != nil {
		t.Fatal(err)
	}
	if m.Timestamp.IsZero() || m.Seq != 0 || m.RetryCount != 0 {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	dup := &DuplicateSequenceError{GroupID: "g", MsgID: "m", Seq: 3}
	if !IsDuplicateSequence(dup) || IsFatal(dup) {
		t.Fatal("duplicate sequence error misclassified")
	}
	wrapped := Fatal(errors.New("forbidden"))
	if !IsFatal(wrapped) || IsRetryable(wrapped) {
		t.Fatal("fatal wrapper misclassified")
	}
	if !IsFatal(ErrQueueFull) || !IsFatal(ErrInvalidMessageType) {
		t.Fatal("queue full / invalid type must be fatal")
	}
	if Fatal(nil) != nil {
		t.Fatal("Fatal(nil) must be nil")
	}
}
