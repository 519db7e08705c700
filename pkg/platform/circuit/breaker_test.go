package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("kafka-events")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "kafka-events", b.Name())
	assert.True(t, b.Allow())
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b := New("kafka-events", WithFailureThreshold(3))

	for i := range 2 {
		useFallback, change := b.RecordFailure()
		require.False(t, useFallback, "failure %d", i+1)
		require.False(t, change.Opened)
	}

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened, "already open")
}

func TestBreakerCountersReset(t *testing.T) {
	t.Run("success clears failures while closed", func(t *testing.T) {
		b := New("kafka-events", WithFailureThreshold(3))
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordFailure()
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("failure clears successes while open", func(t *testing.T) {
		b := New("kafka-events", WithFailureThreshold(1), WithSuccessThreshold(3))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordSuccess()
		assert.True(t, b.IsOpen())
		b.RecordSuccess()
		assert.False(t, b.IsOpen())
	})
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b := New("kafka-events", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := New("kafka-events", WithFailureThreshold(1))
	b.RecordFailure()
	b.Reset()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreakerAllowProbesAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("kafka-events", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(func() time.Time { return now }))

	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "only one probe per cooldown window")

	b.RecordSuccess()
	assert.True(t, b.Allow())
	assert.Equal(t, "closed", b.State().String())
}
