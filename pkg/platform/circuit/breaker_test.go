package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("kafka", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		state, changed := b.Record(errBroker)
		assert.Equal(t, StateClosed, state)
		assert.False(t, changed)
	}

	require.True(t, b.Allow())
	state, changed := b.Record(errBroker)
	assert.Equal(t, StateOpen, state)
	assert.True(t, changed)
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("redis", WithFailureThreshold(2))

	b.Record(errBroker)
	b.Record(nil)
	state, _ := b.Record(errBroker)

	assert.Equal(t, StateClosed, state)
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := New("redis", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(c.now))

	b.Record(errBroker)
	require.Equal(t, StateOpen, b.State())

	c.t = c.t.Add(59 * time.Second)
	assert.False(t, b.Allow())

	c.t = c.t.Add(time.Second)
	assert.True(t, b.Allow(), "cooldown elapsed, trial call admitted")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one trial call at a time")

	t.Run("failed trial re-opens", func(t *testing.T) {
		state, changed := b.Record(errBroker)
		assert.Equal(t, StateOpen, state)
		assert.True(t, changed)
		assert.False(t, b.Allow())
	})

	t.Run("successful trial closes", func(t *testing.T) {
		c.t = c.t.Add(time.Minute)
		require.True(t, b.Allow())
		state, changed := b.Record(nil)
		assert.Equal(t, StateClosed, state)
		assert.True(t, changed)
		assert.True(t, b.Allow())
	})
}

func TestBreaker_Reset(t *testing.T) {
	b := New("kafka", WithFailureThreshold(1))
	b.Record(errBroker)
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
	assert.Equal(t, "kafka", b.Name())
	assert.Equal(t, "closed", b.State().String())
}
