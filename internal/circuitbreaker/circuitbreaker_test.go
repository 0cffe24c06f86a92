package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New(3, time.Hour)
	assert.Equal(t, Closed, b.State())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestHalfOpenAfterCooldownThenCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestRegistryIsPerProvider(t *testing.T) {
	r := NewRegistry(2, time.Minute)
	a := r.For("providerA")
	a.RecordFailure()
	a.RecordFailure()
	assert.Equal(t, Open, r.For("providerA").State())
	assert.Equal(t, Closed, r.For("providerB").State())
}
