package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	l := New(2, 1).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("AAPL"))
	assert.True(t, l.Allow("AAPL"))
	assert.False(t, l.Allow("AAPL"), "burst exhausted")
	assert.True(t, l.Allow("MSFT"), "keys are independent")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow("AAPL"))
	assert.False(t, l.Allow("AAPL"), "only one token refilled")

	l.Forget("AAPL")
	assert.True(t, l.Allow("AAPL"))
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x"))
	}
	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("x"))
}
