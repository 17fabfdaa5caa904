// Package mailer wraps the transactional email provider's send API.
//
// No retries live here: retry policy belongs to the scheduler, which
// simply leaves a failed capsule unsent for the next tick.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Jedidiah5/past-time/internal/capsule"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

const defaultEndpoint = "https://api.resend.com/emails"

type Config struct {
	APIKey     string
	From       string // e.g. "PastTime <onboarding@resend.dev>"
	Endpoint   string // override for tests; empty means the Resend API
	RatePerSec int    // 0 means 2
	Timeout    time.Duration
}

type Resend struct {
	key      string
	from     string
	endpoint string
	http     *http.Client
	log      logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Resend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mailer: API key is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: from address is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Resend{
		key:      cfg.APIKey,
		from:     cfg.From,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
	m.SetRate(cfg.RatePerSec)
	return m, nil
}

// SetRate applies a new provider rate limit. Safe during hot reload.
func (m *Resend) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = 2
	}
	m.mu.Lock()
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	m.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	m.mu.Unlock()
}

type sendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendReceipt struct {
	ID string `json:"id"`
}

// Send delivers one email. The provider receipt id is logged but
// otherwise unused. Failures carry KindEmailRejected with the provider's
// error detail.
func (m *Resend) Send(ctx context.Context, to, subject, html string) error {
	m.mu.Lock()
	lim := m.limiter
	m.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return capsule.E(capsule.KindEmailRejected, "mailer.Send", err)
	}

	payload, err := json.Marshal(sendPayload{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return capsule.E(capsule.KindEmailRejected, "mailer.Send", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return capsule.E(capsule.KindEmailRejected, "mailer.Send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.key)

	resp, err := m.http.Do(req)
	if err != nil {
		return capsule.E(capsule.KindEmailRejected, "mailer.Send", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 300 {
		return capsule.Errorf(capsule.KindEmailRejected, "mailer.Send",
			"provider refused: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var receipt sendReceipt
	if err := json.Unmarshal(body, &receipt); err == nil && receipt.ID != "" {
		m.log.Debug("email accepted", logx.String("receipt", receipt.ID), logx.String("to", to))
	}
	return nil
}
