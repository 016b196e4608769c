package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"groupcast/internal/delivery"
	"groupcast/pkg/logx"
)

// Submitter accepts messages for delivery. *outbox.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, m delivery.Message) error
}

// Entry is one recurring message.
type Entry struct {
	Name    string
	Spec    string
	GroupID string
	Text    string
	MsgType delivery.MsgType
	Media   *delivery.Media
}

type registered struct {
	entry  Entry
	parsed ParsedSpec
	id     cron.EntryID
}

// Service fires Entries on their schedules and submits one message per fire.
type Service struct {
	log     logx.Logger
	sub     Submitter
	parser  cron.Parser
	loc     *time.Location
	timeout time.Duration
	newID   func() string
	// add registers with the running cron; nil means c.AddFunc.
	add func(spec string, cmd func()) (cron.EntryID, error)

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	entries map[string]*registered
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

// WithSubmitTimeout bounds each Submit call made by a fire.
func WithSubmitTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func New(sub Submitter, opts ...Option) *Service {
	s := &Service{
		sub:     sub,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     time.Local,
		timeout: 10 * time.Second,
		newID:   uuid.NewString,
		entries: map[string]*registered{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "schedule"))
	return s
}

// Validate checks every entry without registering anything.
func (s *Service) Validate(entries []Entry) error {
	_, err := s.prepare(entries)
	return err
}

func (s *Service) prepare(entries []Entry) (map[string]*registered, error) {
	out := make(map[string]*registered, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("schedules[%d]: name required", i)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("schedules[%d]: duplicate name %q", i, name)
		}
		ps, err := ParseSchedule(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d] %q: %w", i, name, err)
		}
		if _, err := s.parser.Parse(ps.CronSpec()); err != nil {
			return nil, fmt.Errorf("schedules[%d] %q: %w", i, name, err)
		}
		sample := delivery.Message{GroupID: e.GroupID, MsgType: e.MsgType, Content: e.Text, MsgID: "sample", Media: e.Media}
		if err := sample.Validate(); err != nil {
			return nil, fmt.Errorf("schedules[%d] %q: %w", i, name, err)
		}
		e.Name = name
		out[name] = &registered{entry: e, parsed: ps}
	}
	return out, nil
}

// Apply replaces the active set. Nothing changes when any entry is invalid.
func (s *Service) Apply(entries []Entry) error {
	next, err := s.prepare(entries)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		added := make([]cron.EntryID, 0, len(next))
		for _, r := range next {
			if err := s.registerLocked(r); err != nil {
				for _, id := range added {
					s.c.Remove(id)
				}
				return err
			}
			added = append(added, r.id)
		}
		for _, r := range s.entries {
			s.c.Remove(r.id)
		}
	}
	s.entries = next
	s.log.Info("schedules applied", logx.Int("count", len(next)))
	return nil
}

func (s *Service) registerLocked(r *registered) error {
	e := r.entry
	add := s.add
	if add == nil {
		add = s.c.AddFunc
	}
	id, err := add(r.parsed.CronSpec(), func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("register %q: %w", e.Name, err)
	}
	r.id = id
	s.log.Debug("schedule registered", logx.String("name", e.Name), logx.String("spec", r.parsed.CronSpec()), logx.Time("next", s.c.Entry(id).Next))
	return nil
}

// Start begins firing. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx = ctx
	for _, r := range s.entries {
		if err := s.registerLocked(r); err != nil {
			s.c = nil
			return err
		}
	}
	s.c.Start()
	return nil
}

// Stop halts the runner and waits for running fires until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Names returns the active entry names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	return out
}

func (s *Service) fire(e Entry) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	m := delivery.Message{
		GroupID:   e.GroupID,
		MsgType:   e.MsgType,
		Content:   e.Text,
		MsgID:     s.newID(),
		Media:     e.Media,
		Timestamp: time.Now(),
	}
	if err := s.sub.Submit(ctx, m); err != nil {
		lvl := s.log.Warn
		if errors.Is(err, context.Canceled) {
			lvl = s.log.Debug
		}
		lvl("scheduled submit failed", logx.String("name", e.Name), logx.String("group", e.GroupID), logx.String("msg_id", m.MsgID), logx.Err(err))
		return
	}
	s.log.Debug("scheduled message submitted", logx.String("name", e.Name), logx.String("msg_id", m.MsgID))
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
