// Package scheduler contains the due-capsule delivery loop and the cron
// driver that fires it.
//
// Delivery is at-least-once: a capsule whose send succeeded but whose
// mark-sent update failed stays eligible and may be emailed again on the
// next tick. That risk is accepted and logged loudly, never hidden.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Jedidiah5/past-time/internal/capsule"
	"github.com/Jedidiah5/past-time/internal/journal"
	"github.com/Jedidiah5/past-time/internal/mailer"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

// RecordStore is the slice of the store client the scheduler needs.
type RecordStore interface {
	FindDue(ctx context.Context, now time.Time) ([]capsule.Capsule, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
}

// Sender delivers one rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Alerter pushes an operator alert. May be satisfied by a nil
// *alert.Notifier; the scheduler also tolerates a nil interface.
type Alerter interface {
	Notify(ctx context.Context, text string)
}

type Scheduler struct {
	store   RecordStore
	sender  Sender
	journal *journal.Journal
	alert   Alerter
	log     logx.Logger
	clock   func() time.Time
}

type Option func(*Scheduler)

// WithJournal records every delivery attempt locally.
func WithJournal(j *journal.Journal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// WithAlerter pings an operator on delivery failures.
func WithAlerter(a Alerter) Option {
	return func(s *Scheduler) { s.alert = a }
}

// WithClock overrides wall-clock time. Tests only.
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) { s.clock = fn }
}

func New(store RecordStore, sender Sender, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{store: store, sender: sender, log: log, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTick executes one due-check-and-deliver cycle.
//
// "now" is read once at tick start and used both for the due query and
// for every mark-sent in the batch, so the whole tick sees one
// consistent instant. An empty due set is a no-op, not an error.
// Per-capsule failures are contained inside the loop; the only error
// returned is a failed due query.
func (s *Scheduler) RunTick(ctx context.Context) error {
	now := s.clock()

	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		s.log.Error("due query failed; skipping tick", logx.Err(err))
		s.alertf(ctx, "due capsule query failed: %v", err)
		return err
	}
	if len(due) == 0 {
		s.log.Debug("no due capsules", logx.Time("now", now))
		return nil
	}

	s.log.Info("processing due capsules", logx.Int("count", len(due)), logx.Time("now", now))
	for _, cp := range due {
		s.deliver(ctx, cp, now)
	}
	return nil
}

// deliver drives the per-capsule protocol: send, then mark sent. Every
// failure path returns instead of propagating, so one capsule can never
// abort the rest of the batch.
func (s *Scheduler) deliver(ctx context.Context, cp capsule.Capsule, now time.Time) {
	start := time.Now()
	log := s.log.With(logx.String("capsule", cp.ID), logx.String("recipient", cp.Recipient))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic delivering capsule",
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	html, err := mailer.RenderBody(cp)
	if err != nil {
		log.Error("render failed; capsule stays eligible", logx.Err(err))
		s.record(ctx, cp, now, journal.OutcomeSendFailed, err, start)
		return
	}

	if err := s.sender.Send(ctx, cp.Recipient, mailer.Subject(cp), html); err != nil {
		// Not marked sent: the next tick retries. That is the whole
		// recovery strategy, no in-tick backoff.
		log.Warn("send failed; will retry next tick", logx.Err(err), logx.Duration("took", time.Since(start)))
		s.record(ctx, cp, now, journal.OutcomeSendFailed, err, start)
		s.alertf(ctx, "capsule %s: send to %s failed: %v", cp.ID, cp.Recipient, err)
		return
	}

	// Mark with the tick's captured now, not a fresh timestamp: sent_at
	// reflects tick start, not send completion.
	if err := s.store.MarkSent(ctx, cp.ID, now); err != nil {
		if capsule.IsKind(err, capsule.KindNotFound) {
			// Concurrent delete won the race after our send. Nothing left
			// to resend, so this is benign.
			log.Warn("capsule gone before mark-sent", logx.Err(err))
			s.record(ctx, cp, now, journal.OutcomeSent, err, start)
			return
		}
		log.Error("email sent but mark-sent failed; duplicate send possible next tick", logx.Err(err))
		s.record(ctx, cp, now, journal.OutcomeMarkFailed, err, start)
		s.alertf(ctx, "capsule %s: sent but not marked, duplicate possible: %v", cp.ID, err)
		return
	}

	log.Info("capsule delivered", logx.Time("sent_at", now), logx.Duration("took", time.Since(start)))
	s.record(ctx, cp, now, journal.OutcomeSent, nil, start)
}

func (s *Scheduler) record(ctx context.Context, cp capsule.Capsule, at time.Time, outcome string, cause error, start time.Time) {
	if s.journal == nil {
		return
	}
	a := journal.Attempt{
		At:        at,
		CapsuleID: cp.ID,
		Recipient: cp.Recipient,
		Outcome:   outcome,
		Took:      time.Since(start),
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	if err := s.journal.Record(ctx, a); err != nil {
		s.log.Warn("journal write failed", logx.String("capsule", cp.ID), logx.Err(err))
	}
}

func (s *Scheduler) alertf(ctx context.Context, format string, args ...any) {
	if s.alert == nil {
		return
	}
	s.alert.Notify(ctx, fmt.Sprintf(format, args...))
}
