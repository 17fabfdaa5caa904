// Package store implements the typed client for the remote capsule
// record store (a PostgREST-style REST API over the capsules table).
//
// The store is the sole owner of record state: nothing is cached here,
// every call hits the remote API.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jedidiah5/past-time/internal/capsule"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

const collection = "/rest/v1/capsules"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // 0 means 10s
}

type Client struct {
	base string
	key  string
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("store: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("store: API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		key:  cfg.APIKey,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// FindDue returns capsules with unlock_at <= now and sent_at null.
// An empty result is not an error. Order is irrelevant to the caller.
func (c *Client) FindDue(ctx context.Context, now time.Time) ([]capsule.Capsule, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("unlock_at", "lte."+now.UTC().Format(time.RFC3339Nano))
	q.Set("sent_at", "is.null")

	body, _, err := c.do(ctx, http.MethodGet, "store.FindDue", q, nil, "")
	if err != nil {
		return nil, err
	}
	var out []capsule.Capsule
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, capsule.E(capsule.KindStoreUnavailable, "store.FindDue", err)
	}
	c.log.Debug("due query", logx.Int("count", len(out)))
	return out, nil
}

// List returns all capsules, newest first.
func (c *Client) List(ctx context.Context) ([]capsule.Capsule, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	body, _, err := c.do(ctx, http.MethodGet, "store.List", q, nil, "")
	if err != nil {
		return nil, err
	}
	var out []capsule.Capsule
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, capsule.E(capsule.KindStoreUnavailable, "store.List", err)
	}
	return out, nil
}

// Insert persists a new capsule and returns the stored row.
func (c *Client) Insert(ctx context.Context, cp capsule.Capsule) (capsule.Capsule, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return capsule.Capsule{}, capsule.E(capsule.KindStoreUnavailable, "store.Insert", err)
	}
	body, _, err := c.do(ctx, http.MethodPost, "store.Insert", nil, payload, "return=representation")
	if err != nil {
		return capsule.Capsule{}, err
	}
	var rows []capsule.Capsule
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return capsule.Capsule{}, capsule.Errorf(capsule.KindStoreUnavailable, "store.Insert", "unexpected insert response")
	}
	return rows[0], nil
}

// MarkSent sets sent_at on the capsule with the given id.
//
// The update is filtered on sent_at=is.null as well, so a capsule that was
// concurrently deleted or already marked reports KindNotFound. The
// scheduler treats that as benign.
func (c *Client) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("sent_at", "is.null")

	payload, _ := json.Marshal(map[string]string{
		"sent_at": sentAt.UTC().Format(time.RFC3339Nano),
	})
	body, _, err := c.do(ctx, http.MethodPatch, "store.MarkSent", q, payload, "return=representation")
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return capsule.E(capsule.KindStoreUnavailable, "store.MarkSent", err)
	}
	if len(rows) == 0 {
		return capsule.Errorf(capsule.KindNotFound, "store.MarkSent", "capsule %s not found or already sent", id)
	}
	return nil
}

// DeleteIfUnsent removes the capsule only while sent_at is still null.
//
// The precondition rides on the DELETE itself (sent_at=is.null filter), so
// a send racing this delete cannot be lost: whichever mutation the store
// applies first wins. The follow-up read only classifies a refused delete
// as Conflict (already sent) versus NotFound (gone).
func (c *Client) DeleteIfUnsent(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("sent_at", "is.null")

	body, _, err := c.do(ctx, http.MethodDelete, "store.DeleteIfUnsent", q, nil, "return=representation")
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return capsule.E(capsule.KindStoreUnavailable, "store.DeleteIfUnsent", err)
	}
	if len(rows) > 0 {
		return nil
	}

	cp, err := c.fetchByID(ctx, id)
	if err != nil {
		return err
	}
	if cp == nil {
		return capsule.Errorf(capsule.KindNotFound, "store.DeleteIfUnsent", "capsule %s not found", id)
	}
	return capsule.Errorf(capsule.KindConflict, "store.DeleteIfUnsent", "capsule %s already delivered", id)
}

func (c *Client) fetchByID(ctx context.Context, id string) (*capsule.Capsule, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)

	body, _, err := c.do(ctx, http.MethodGet, "store.fetchByID", q, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []capsule.Capsule
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, capsule.E(capsule.KindStoreUnavailable, "store.fetchByID", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) do(ctx context.Context, method, op string, q url.Values, payload []byte, prefer string) ([]byte, int, error) {
	u := c.base + collection
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, capsule.E(capsule.KindStoreUnavailable, op, err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, capsule.E(capsule.KindStoreUnavailable, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, capsule.E(capsule.KindStoreUnavailable, op, err)
	}
	if resp.StatusCode >= 300 {
		return nil, resp.StatusCode, capsule.Errorf(capsule.KindStoreUnavailable, op,
			"%s: %s", resp.Status, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...(+%d bytes)", s[:n], len(s)-n)
}
