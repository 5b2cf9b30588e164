package session

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScavenger_NextDelay(t *testing.T) {
	s := NewScavenger(nil, nil, nil, ScavengerConfig{Interval: time.Minute, Jitter: 10 * time.Second})

	s.randN = func(int64) int64 { return 0 }
	assert.Equal(t, time.Minute, s.nextDelay())

	s.randN = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 70*time.Second-time.Nanosecond, s.nextDelay())

	s.randN = rand.Int64N
	for range 100 {
		d := s.nextDelay()
		assert.GreaterOrEqual(t, d, time.Minute)
		assert.Less(t, d, 70*time.Second)
	}
}

func TestScavenger_Defaults(t *testing.T) {
	s := NewScavenger(nil, nil, nil, ScavengerConfig{Jitter: -time.Second})
	assert.Equal(t, DefaultScavengeInterval, s.cfg.Interval)
	assert.Equal(t, DefaultScavengeInterval, s.nextDelay())
}
