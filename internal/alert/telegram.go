// Package alert pushes operator alerts to a Telegram chat. Delivery
// failures never reach the capsule owner, so this is the only active
// signal an operator gets beyond the logs.
package alert

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/Jedidiah5/past-time/pkg/logx"
)

type Config struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"token"`
	ChatID     int64  `yaml:"chat_id"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

type Notifier struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds the notifier. It returns (nil, nil) when alerting is
// disabled or unconfigured; a nil *Notifier is safe to use.
func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// No poller: the bot only sends, it never receives updates.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Notifier{
		bot:     bot,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// Notify sends one alert line. Over-rate alerts are dropped rather than
// queued: an outage produces one ping, not a flood.
func (n *Notifier) Notify(ctx context.Context, text string) {
	if n == nil {
		return
	}
	if !n.limiter.Allow() {
		return
	}
	start := time.Now()
	_, err := n.bot.Send(n.chat, "⚠️ "+text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		n.log.Warn("alert send failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	n.log.Debug("alert sent", logx.Int64("chat_id", n.chat.ID))
}
