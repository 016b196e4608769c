package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"groupcast/internal/delivery"
	"groupcast/pkg/logx"
)

type Config struct {
	Token       string
	RatePerSec  int
	SeqGuardTTL time.Duration
}

// sendFunc is the single Bot API call the adapter makes per chunk.
type sendFunc func(ctx context.Context, to *tele.Chat, what any, opt *tele.SendOptions) error

// Adapter is a delivery.Transport backed by the Telegram Bot API.
// It is safe for concurrent use.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
	guard   *seqGuard
	send    sendFunc
}

// New builds an offline bot client; no network call is made until Deliver.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	a := newAdapter(cfg, log, nil)
	a.bot = b
	a.send = func(_ context.Context, to *tele.Chat, what any, opt *tele.SendOptions) error {
		_, err := b.Send(to, what, opt)
		return err
	}
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, send sendFunc) *Adapter {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.SeqGuardTTL == 0 {
		cfg.SeqGuardTTL = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		guard:   newSeqGuard(cfg.SeqGuardTTL),
		send:    send,
	}
}

// Deliver sends one attempt. Long text is split into several Bot API calls;
// a failure part way through returns the error and the Controller retries
// the whole message.
func (a *Adapter) Deliver(ctx context.Context, d delivery.Delivery) error {
	if ctx == nil {
		ctx = context.Background()
	}
	to, err := ParseTarget(d.GroupID)
	if err != nil {
		return err
	}
	parts := a.payloads(d)
	if len(parts) == 0 {
		return delivery.Fatal(fmt.Errorf("telegram: message %s has nothing to send", d.MsgID))
	}
	if err := a.guard.claim(d); err != nil {
		return err
	}

	chat := &tele.Chat{ID: to.ChatID}
	for _, p := range parts {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		opt := &tele.SendOptions{ThreadID: to.ThreadID, ParseMode: p.mode}
		if err := a.send(ctx, chat, p.what, opt); err != nil {
			return a.classify(err, d)
		}
	}
	a.log.Trace("delivered", logx.String("target", to.String()), logx.String("msg_id", d.MsgID), logx.Int("seq", d.Seq))
	return nil
}

type payload struct {
	what any
	mode tele.ParseMode
}

func (a *Adapter) payloads(d delivery.Delivery) []payload {
	switch d.MsgType {
	case delivery.MsgMedia:
		if d.Media != nil {
			return []payload{{what: mediaPayload(d.Media, d.Content)}}
		}
	case delivery.MsgMarkdown:
		return textPayloads(d.Content, tele.ModeMarkdown)
	}
	// text, ark and embed have no Telegram-native form beyond plain text.
	return textPayloads(d.Content, tele.ModeDefault)
}

func textPayloads(s string, mode tele.ParseMode) []payload {
	chunks := splitText(s, textLimit)
	out := make([]payload, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, payload{what: c, mode: mode})
	}
	return out
}

func mediaPayload(m *delivery.Media, content string) any {
	caption := m.Caption
	if caption == "" {
		caption = content
	}
	file := tele.FromURL(m.URL)
	switch strings.ToLower(strings.TrimSpace(m.FileType)) {
	case "video":
		return &tele.Video{File: file, Caption: caption}
	case "audio":
		return &tele.Audio{File: file, Caption: caption}
	case "document", "file":
		return &tele.Document{File: file, Caption: caption}
	default:
		return &tele.Photo{File: file, Caption: caption}
	}
}

var fatalMarkers = []string{
	"chat not found",
	"bot was kicked",
	"bot was blocked",
	"forbidden",
	"not enough rights",
	"have no rights",
	"unauthorized",
}

// classify marks errors a retry cannot fix as fatal. Flood control and
// network errors stay generic.
func (a *Adapter) classify(err error, d delivery.Delivery) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		a.log.Warn("telegram flood control", logx.String("group", d.GroupID), logx.Int("retry_after", flood.RetryAfter))
		return fmt.Errorf("telegram: %w", err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return delivery.Fatal(fmt.Errorf("telegram: %w", err))
		}
	}
	return fmt.Errorf("telegram: %w", err)
}

// SendLog posts a plain-text log line to target. It shares the bot rate
// limit with Deliver but bypasses the sequence guard and never logs.
func (a *Adapter) SendLog(ctx context.Context, target, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	to, err := ParseTarget(target)
	if err != nil {
		return err
	}
	for _, chunk := range splitText(text, textLimit) {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := a.send(ctx, &tele.Chat{ID: to.ChatID}, chunk, &tele.SendOptions{ThreadID: to.ThreadID}); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
	}
	return nil
}
