package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesUntilCap(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second, 0)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.duration(i+1), "attempt %d", i+1)
	}
}

func TestBackoff_NeverDecreases(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 5*time.Second, 0)

	var last time.Duration
	for attempt := 1; attempt <= 2000; attempt++ {
		d := b.duration(attempt)
		if d < last {
			t.Fatalf("attempt %d: %v < previous %v", attempt, d, last)
		}
		last = d
	}
	assert.Equal(t, 5*time.Second, last)
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := newBackoff(time.Second, time.Minute, 0.5)

	b.rand = func() float64 { return 0 }
	assert.Equal(t, 2*time.Second, b.duration(3))

	b.rand = func() float64 { return 1 }
	assert.Equal(t, 6*time.Second, b.duration(3))

	b.rand = func() float64 { return 1 }
	assert.Equal(t, time.Minute, b.duration(20), "jitter must not exceed the cap")
}

func TestBackoff_InvalidInputs(t *testing.T) {
	b := newBackoff(0, 0, 7)

	assert.Equal(t, time.Second, b.duration(0))
	assert.Equal(t, time.Second, b.duration(5))
}
