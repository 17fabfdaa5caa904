// Package journal keeps a local history of delivery attempts in SQLite.
//
// The journal is observability only. It is NOT consulted by the
// scheduler when deciding what to send; eligibility always comes from
// the record store, so losing the journal file loses history, never
// correctness.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Jedidiah5/past-time/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Outcome values recorded per attempt.
const (
	OutcomeSent       = "sent"        // email accepted, mark-sent applied
	OutcomeSendFailed = "send_failed" // provider refused; capsule left unsent
	OutcomeMarkFailed = "mark_failed" // email accepted but mark-sent failed; duplicate possible
)

type Config struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Attempt is one delivery attempt for one capsule.
type Attempt struct {
	At        time.Time     `json:"at"`
	CapsuleID string        `json:"capsule_id"`
	Recipient string        `json:"recipient"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took_ms"`
}

type Journal struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the journal database. It returns (nil, nil) when the
// journal is disabled; a nil *Journal is safe to use.
func Open(cfg Config, log logx.Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal: path is required when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	j := &Journal{db: db, log: log}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("delivery journal open", logx.String("path", path))
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

// Record appends one attempt. Errors are returned for logging but a
// failed journal write never blocks delivery.
func (j *Journal) Record(ctx context.Context, a Attempt) error {
	if j == nil || j.db == nil {
		return nil
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts(at, capsule_id, recipient, outcome, err, took_ms)
		 VALUES(?,?,?,?,?,?)`,
		a.At.UTC().Format(time.RFC3339Nano), a.CapsuleID, a.Recipient, a.Outcome,
		nullStr(a.Error), a.Took.Milliseconds(),
	)
	return err
}

// Recent returns the latest attempts, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, capsule_id, recipient, outcome, COALESCE(err, ''), took_ms
		 FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var at string
		var tookMS int64
		if err := rows.Scan(&at, &a.CapsuleID, &a.Recipient, &a.Outcome, &a.Error, &tookMS); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			a.At = ts
		}
		a.Took = time.Duration(tookMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
