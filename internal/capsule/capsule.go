// Package capsule defines the message record and the error taxonomy
// shared by the store client, the mailer, the gateway and the scheduler.
package capsule

import "time"

// Capsule is the only persistent entity: a message waiting for its
// unlock time. JSON tags match the record store columns.
type Capsule struct {
	ID        string     `json:"id"`
	Recipient string     `json:"recipient"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	UnlockAt  time.Time  `json:"unlock_at"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at"`
}

// Sent reports whether the capsule has already been delivered.
// Once sent, a capsule is immutable and may not be deleted.
func (c Capsule) Sent() bool { return c.SentAt != nil }

// Due reports whether the capsule should be delivered at now:
// unlock time has passed and it has not been sent yet.
func (c Capsule) Due(now time.Time) bool {
	return !c.Sent() && !c.UnlockAt.After(now)
}
