package timeline

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestCanRetractBoundary(t *testing.T) {
	sent := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	m := msg("m1", "alice", sent)

	tests := []struct {
		name    string
		viewer  string
		elapsed time.Duration
		want    bool
	}{
		{name: "just sent", viewer: "alice", elapsed: 0, want: true},
		{name: "inside window", viewer: "alice", elapsed: 90 * time.Second, want: true},
		{name: "exactly at boundary", viewer: "alice", elapsed: 120000 * time.Millisecond, want: true},
		{name: "one millisecond late", viewer: "alice", elapsed: 120001 * time.Millisecond, want: false},
		{name: "clock skew", viewer: "alice", elapsed: -time.Hour, want: true},
		{name: "other viewer inside window", viewer: "bob", elapsed: time.Second, want: false},
		{name: "other viewer with skew", viewer: "bob", elapsed: -time.Hour, want: false},
		{name: "empty viewer", viewer: "", elapsed: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanRetract(m, tt.viewer, sent.Add(tt.elapsed), DefaultRetractWindow)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyFollowsClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	policy := NewPolicy(0, mock)
	assert.Equal(t, DefaultRetractWindow, policy.Window)

	m := msg("m1", Self, mock.Now())
	assert.True(t, policy.Allows(m, Self))
	assert.Equal(t, 2*time.Minute, policy.Remaining(m))

	mock.Add(2 * time.Minute)
	assert.True(t, policy.Allows(m, Self))
	assert.Zero(t, policy.Remaining(m))

	mock.Add(time.Millisecond)
	assert.False(t, policy.Allows(m, Self))
	assert.Equal(t, m.Timestamp.Add(2*time.Minute), policy.Expiry(m))
}
