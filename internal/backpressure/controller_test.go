package backpressure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyStateForBands(t *testing.T) {
	p := Policy{WarningThreshold: 0.7, CriticalThreshold: 0.9}

	assert.Equal(t, StateNormal, p.stateFor(0.1))
	assert.Equal(t, StateWarning, p.stateFor(0.5))
	assert.Equal(t, StateCritical, p.stateFor(0.8))
	assert.Equal(t, StateOverloaded, p.stateFor(0.95))
}

func TestQueueDepthDrivesStateTransitions(t *testing.T) {
	c := NewController(Policy{
		MaxQueueDepth:     10,
		MaxInFlight:       100,
		WarningThreshold:  0.7,
		CriticalThreshold: 0.9,
		AlertCooldown:     time.Minute,
	}, nil)

	assert.Equal(t, StateNormal, c.State())

	c.UpdateQueueDepth(9) // 0.9 -> OVERLOADED
	assert.Equal(t, StateOverloaded, c.State())

	c.UpdateQueueDepth(0)
	assert.Equal(t, StateNormal, c.State())
}

func TestShouldConsumeFalseInCriticalAndOverloaded(t *testing.T) {
	c := NewController(Policy{
		MaxQueueDepth:                 10,
		MaxInFlight:                   100,
		WarningThreshold:              0.7,
		CriticalThreshold:             0.9,
		AlertCooldown:                 time.Minute,
		DropLowPriorityWhenOverloaded: true,
	}, nil)

	c.UpdateQueueDepth(8) // 0.8 -> CRITICAL
	assert.Equal(t, StateCritical, c.State())
	assert.False(t, c.ShouldConsume())

	c.UpdateQueueDepth(9) // 0.9 -> OVERLOADED
	assert.Equal(t, StateOverloaded, c.State())
	assert.False(t, c.ShouldConsume())
	assert.True(t, c.ShouldDropLowPriority())
}

func TestAdaptiveDelayLadder(t *testing.T) {
	c := NewController(Policy{
		MaxQueueDepth:     10,
		MaxInFlight:       100,
		WarningThreshold:  0.7,
		CriticalThreshold: 0.9,
		AlertCooldown:     time.Minute,
	}, nil)

	assert.Equal(t, time.Duration(0), c.AdaptiveDelay())

	c.UpdateQueueDepth(4) // 0.4 -> WARNING (>= 0.35*0.7)
	assert.Equal(t, StateWarning, c.State())
	assert.Equal(t, 100*time.Millisecond, c.AdaptiveDelay())

	c.UpdateQueueDepth(8) // CRITICAL
	assert.Equal(t, 500*time.Millisecond, c.AdaptiveDelay())

	c.UpdateQueueDepth(9) // OVERLOADED
	assert.Equal(t, time.Second, c.AdaptiveDelay())
}

func TestAlertFiresAtMostOncePerCooldown(t *testing.T) {
	var transitions int
	c := NewController(Policy{
		MaxQueueDepth:     10,
		MaxInFlight:       100,
		WarningThreshold:  0.7,
		CriticalThreshold: 0.9,
		AlertCooldown:     time.Hour,
	}, func(old, new State) { transitions++ })

	c.UpdateQueueDepth(9) // NORMAL -> OVERLOADED, alerts
	c.UpdateQueueDepth(0) // OVERLOADED -> NORMAL, within cooldown: no alert
	c.UpdateQueueDepth(9) // NORMAL -> OVERLOADED again, within cooldown: no alert
	c.UpdateQueueDepth(0)
	c.UpdateQueueDepth(9)

	assert.LessOrEqual(t, transitions, 1)
}

// TestScenarioS6BackpressureUnderLoad exercises spec §8's S6: a
// max_queue_depth=10, rate_limit_per_tenant=2.0 policy pushed with 20
// messages over 200ms for one tenant observes at least one state
// transition, consumes at most a couple messages per second for that
// tenant, and stops consuming in CRITICAL/OVERLOADED.
func TestScenarioS6BackpressureUnderLoad(t *testing.T) {
	var sawNonNormal bool
	c := NewController(Policy{
		MaxQueueDepth:      10,
		MaxInFlight:        100,
		RateLimitPerTenant: 2.0,
		WarningThreshold:   0.7,
		CriticalThreshold:  0.9,
		AlertCooldown:      50 * time.Millisecond,
	}, func(old, new State) {
		if new != StateNormal {
			sawNonNormal = true
		}
	})

	allowed := 0
	for i := 0; i < 20; i++ {
		c.UpdateQueueDepth(int64(i % 11))
		if c.CheckRateLimit("tenant-load", 1) {
			allowed++
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.True(t, sawNonNormal, "expected at least one state transition away from NORMAL")
	assert.LessOrEqual(t, allowed, 2)

	if c.State() == StateCritical || c.State() == StateOverloaded {
		assert.False(t, c.ShouldConsume())
	}
}

func TestCheckRateLimitPressureAloneDrivesStateNonNormal(t *testing.T) {
	c := NewController(Policy{
		MaxQueueDepth:      1_000_000,
		MaxInFlight:        1_000_000,
		RateLimitPerTenant: 1.0,
		WarningThreshold:   0.7,
		CriticalThreshold:  0.9,
		AlertCooldown:      time.Hour,
	}, nil)

	for i := 0; i < 50; i++ {
		c.CheckRateLimit("noisy-tenant", 1)
	}

	assert.NotEqual(t, StateNormal, c.State())
}
