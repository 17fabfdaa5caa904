package capsule

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert := assert.New(t)

	base := E(KindConflict, "store.DeleteIfUnsent", errors.New("already sent"))
	assert.Equal(KindConflict, KindOf(base))
	assert.True(IsKind(base, KindConflict))
	assert.False(IsKind(base, KindNotFound))

	// kind survives wrapping
	wrapped := fmt.Errorf("remove capsule: %w", base)
	assert.Equal(KindConflict, KindOf(wrapped))

	assert.Equal(Kind(""), KindOf(errors.New("plain")))
	assert.Equal(Kind(""), KindOf(nil))
}

func TestDue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sent := now.Add(-time.Hour)

	cases := []struct {
		name string
		c    Capsule
		want bool
	}{
		{"unlock in past, unsent", Capsule{UnlockAt: now.Add(-time.Minute)}, true},
		{"unlock exactly now, unsent", Capsule{UnlockAt: now}, true},
		{"unlock in future", Capsule{UnlockAt: now.Add(time.Hour)}, false},
		{"already sent", Capsule{UnlockAt: now.Add(-time.Hour), SentAt: &sent}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.c.Due(now))
		})
	}
}
