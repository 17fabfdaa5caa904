// Package gateway validates and applies user-initiated capsule
// mutations. It is the only place creation invariants are enforced; the
// scheduler trusts what the store returns.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Jedidiah5/past-time/internal/capsule"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

// Store is the slice of the store client the gateway needs.
type Store interface {
	Insert(ctx context.Context, cp capsule.Capsule) (capsule.Capsule, error)
	List(ctx context.Context) ([]capsule.Capsule, error)
	DeleteIfUnsent(ctx context.Context, id string) error
}

// CreateParams is the creation request after transport decoding.
// UnlockAt must already be an absolute instant; timezone resolution is
// the client's job.
type CreateParams struct {
	Recipient string    `json:"recipient" validate:"required,email"`
	Title     string    `json:"title" validate:"required,max=200"`
	Body      string    `json:"body" validate:"required"`
	UnlockAt  time.Time `json:"unlock_at" validate:"required"`
}

type Gateway struct {
	store    Store
	validate *validator.Validate
	clock    func() time.Time
	log      logx.Logger
}

func New(store Store, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    time.Now,
		log:      log,
	}
}

// WithClock overrides wall-clock time. Tests only.
func (g *Gateway) WithClock(fn func() time.Time) *Gateway {
	g.clock = fn
	return g
}

// Create validates params and persists a new unsent capsule.
// The unlock time must be strictly in the future.
func (g *Gateway) Create(ctx context.Context, p CreateParams) (capsule.Capsule, error) {
	p.Recipient = strings.TrimSpace(p.Recipient)
	p.Title = strings.TrimSpace(p.Title)
	p.Body = strings.TrimSpace(p.Body)

	if err := g.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return capsule.Capsule{}, capsule.E(capsule.KindValidation, "gateway.Create", verrs)
		}
		return capsule.Capsule{}, capsule.E(capsule.KindValidation, "gateway.Create", err)
	}

	now := g.clock()
	if !p.UnlockAt.After(now) {
		return capsule.Capsule{}, capsule.Errorf(capsule.KindValidation, "gateway.Create",
			"unlock time must be in the future")
	}

	cp := capsule.Capsule{
		ID:        uuid.NewString(),
		Recipient: p.Recipient,
		Title:     p.Title,
		Body:      p.Body,
		UnlockAt:  p.UnlockAt.UTC(),
		CreatedAt: now.UTC(),
	}
	stored, err := g.store.Insert(ctx, cp)
	if err != nil {
		return capsule.Capsule{}, err
	}
	g.log.Info("capsule created",
		logx.String("capsule", stored.ID), logx.Time("unlock_at", stored.UnlockAt))
	return stored, nil
}

// List returns all capsules for the dashboard.
func (g *Gateway) List(ctx context.Context) ([]capsule.Capsule, error) {
	return g.store.List(ctx)
}

// Remove deletes a capsule that has not been delivered yet. A capsule
// that was already sent is permanent history: the store refuses the
// delete and the Conflict is surfaced to the caller.
func (g *Gateway) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return capsule.Errorf(capsule.KindValidation, "gateway.Remove", "id is required")
	}
	if err := g.store.DeleteIfUnsent(ctx, id); err != nil {
		return err
	}
	g.log.Info("capsule removed", logx.String("capsule", id))
	return nil
}
