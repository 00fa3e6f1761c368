package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsBurstThenRefuses(t *testing.T) {
	l := NewLimiter(30, 3)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice"), "attempt %d", i)
	}
	assert.False(t, l.Allow("alice"))

	// other keys have their own bucket
	assert.True(t, l.Allow("bob"))

	// 30 per hour refills one token every two minutes
	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
}

func TestLimiter_Tokens(t *testing.T) {
	l := NewLimiter(60, 5)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.InDelta(t, 5, l.Tokens("alice"), 0.01)
	l.Allow("alice")
	assert.InDelta(t, 4, l.Tokens("alice"), 0.01)
	assert.Equal(t, 5, l.Burst())
}

func TestLimiter_Prune(t *testing.T) {
	l := NewLimiter(60, 5)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("alice")
	now = now.Add(2 * time.Hour)
	l.Allow("bob")

	assert.Equal(t, 1, l.Prune(time.Hour))
	assert.Equal(t, 1, l.Len())
}
