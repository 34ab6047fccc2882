// Package notifier turns task failure events into Telegram alerts. It is a
// plain bus subscriber: losing an alert never affects task state.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"reelsync/internal/eventbus"
	logx "reelsync/pkg/logx"
)

type Config struct {
	Token      string
	ChatIDs    []int64
	RatePerSec int
	// DedupWindow suppresses repeat alerts for the same task id.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Minute
	}
	return c
}

// Sender delivers one message to one chat. The telebot adapter satisfies it;
// tests swap in a fake.
type Sender interface {
	Send(chatID int64, text string) error
}

type teleSender struct {
	bot *tele.Bot
}

func (s *teleSender) Send(chatID int64, text string) error {
	_, err := s.bot.Send(tele.ChatID(chatID), text)
	return err
}

// NewTeleSender builds a send-only Telegram client. No poller is attached;
// the bot never consumes updates.
func NewTeleSender(token string) (Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &teleSender{bot: b}, nil
}

type Service struct {
	cfg    Config
	bus    eventbus.Bus
	sender Sender
	log    logx.Logger

	limiter *rate.Limiter

	mu       sync.Mutex
	lastSent map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	now func() time.Time
}

func New(cfg Config, bus eventbus.Bus, sender Sender, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	return &Service{
		cfg:      cfg,
		bus:      bus,
		sender:   sender,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		lastSent: map[string]time.Time{},
		now:      time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ch, unsub := s.bus.Subscribe(128)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type == eventbus.TypeTaskFailed {
					s.alert(runCtx, ev)
				}
			}
		}
	}()
	s.log.Info("notifier started", logx.Int("chats", len(s.cfg.ChatIDs)))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) alert(ctx context.Context, ev eventbus.Event) {
	te, ok := ev.Data.(eventbus.TaskEvent)
	if !ok {
		return
	}

	now := s.now()
	s.mu.Lock()
	last, seen := s.lastSent[te.TaskID]
	if seen && now.Sub(last) < s.cfg.DedupWindow {
		s.mu.Unlock()
		return
	}
	s.lastSent[te.TaskID] = now
	// Opportunistic sweep keeps the dedup map from growing unbounded.
	for id, at := range s.lastSent {
		if now.Sub(at) > 2*s.cfg.DedupWindow {
			delete(s.lastSent, id)
		}
	}
	s.mu.Unlock()

	text := fmt.Sprintf("❌ task %s failed\n%s\n%s", te.TaskID, te.URL, te.Error)
	for _, chatID := range s.cfg.ChatIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.sender.Send(chatID, text); err != nil {
			s.log.Warn("alert delivery failed",
				logx.Int64("chat", chatID), logx.String("task", te.TaskID), logx.Err(err))
		}
	}
}
