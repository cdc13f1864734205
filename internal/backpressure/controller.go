// Package backpressure implements the Backpressure Controller
// (SPEC_FULL.md §4.6), ported from the state machine and formulas in
// original_source/src/streaming/backpressure.py, with per-tenant token-
// bucket rate limiting grounded on a non-teacher pack repo's
// infrastructure/ratelimit package.
package backpressure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is one of the four backpressure bands.
type State string

const (
	StateNormal     State = "NORMAL"
	StateWarning    State = "WARNING"
	StateCritical   State = "CRITICAL"
	StateOverloaded State = "OVERLOADED"
)

// Policy holds the tunables the state machine and rate limiter are
// evaluated against.
type Policy struct {
	MaxQueueDepth        int64
	MaxInFlight          int64
	RateLimitPerTenant   float64 // events/second
	WarningThreshold     float64 // default 0.7
	CriticalThreshold    float64 // default 0.9
	AlertCooldown        time.Duration // default 60s
	DropLowPriorityWhenOverloaded bool
}

// DefaultPolicy returns the spec's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxQueueDepth:      1000,
		MaxInFlight:        100,
		RateLimitPerTenant: 10,
		WarningThreshold:   0.7,
		CriticalThreshold:  0.9,
		AlertCooldown:      60 * time.Second,
		DropLowPriorityWhenOverloaded: true,
	}
}

// stateFor maps a utilization ratio onto a State using the band formula:
// NORMAL < 0.35*warning; WARNING in [0.35*warning, warning);
// CRITICAL in [warning, critical); OVERLOADED >= critical.
func (p Policy) stateFor(utilization float64) State {
	switch {
	case utilization >= p.CriticalThreshold:
		return StateOverloaded
	case utilization >= p.WarningThreshold:
		return StateCritical
	case utilization >= 0.35*p.WarningThreshold:
		return StateWarning
	default:
		return StateNormal
	}
}

// Controller tracks queue depth, in-flight count, and per-tenant rate
// limiting, deriving a State from the maximum of the three utilizations.
// Constructed explicitly and threaded through the ingestor/orchestrator
// (no module-level singleton, per SPEC_FULL.md §9).
type Controller struct {
	policy Policy

	mu          sync.Mutex
	queueDepth  int64
	inFlight    int64
	state       State
	lastAlertAt time.Time

	limiters  sync.Map // tenantID -> *rate.Limiter
	rateUtils sync.Map // tenantID -> *rateUtilTracker

	onStateChange func(old, new State)
}

// rateUtilDecay is the EWMA weight given to each CheckRateLimit sample when
// tracking a tenant's recent denial rate.
const rateUtilDecay = 0.2

// rateUtilTracker holds one tenant's EWMA of recent CheckRateLimit outcomes
// (0 = consistently allowed, 1 = consistently denied).
type rateUtilTracker struct {
	mu   sync.Mutex
	ewma float64
}

// NewController builds a Controller with the given policy and an optional
// state-change callback (may be nil).
func NewController(policy Policy, onStateChange func(old, new State)) *Controller {
	return &Controller{policy: policy, state: StateNormal, onStateChange: onStateChange}
}

// UpdateQueueDepth sets the current queue depth and recomputes state.
func (c *Controller) UpdateQueueDepth(depth int64) {
	c.mu.Lock()
	c.queueDepth = depth
	c.mu.Unlock()
	c.recheck()
}

// IncrementInFlight increments the in-flight counter and recomputes state.
func (c *Controller) IncrementInFlight() {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	c.recheck()
}

// DecrementInFlight decrements the in-flight counter (never below zero)
// and recomputes state.
func (c *Controller) DecrementInFlight() {
	c.mu.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.mu.Unlock()
	c.recheck()
}

func (c *Controller) limiterFor(tenantID string) *rate.Limiter {
	if l, ok := c.limiters.Load(tenantID); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(c.policy.RateLimitPerTenant), 1)
	actual, _ := c.limiters.LoadOrStore(tenantID, l)
	return actual.(*rate.Limiter)
}

// CheckRateLimit consumes n tokens from tenantID's 1-second sliding window,
// returning true on success. The counter only advances on success (a
// failed check is not counted against the window). Each call also updates
// tenantID's rate-utilization EWMA and recomputes the overall state, so
// sustained per-tenant rate pressure can push the controller past NORMAL
// on its own, per spec's max(utilization) formula.
func (c *Controller) CheckRateLimit(tenantID string, n int) bool {
	allowed := c.limiterFor(tenantID).AllowN(time.Now(), n)

	sample := 0.0
	if !allowed {
		sample = 1.0
	}
	tracker := c.rateUtilTrackerFor(tenantID)
	tracker.mu.Lock()
	tracker.ewma += rateUtilDecay * (sample - tracker.ewma)
	tracker.mu.Unlock()

	c.recheck()
	return allowed
}

func (c *Controller) rateUtilTrackerFor(tenantID string) *rateUtilTracker {
	if t, ok := c.rateUtils.Load(tenantID); ok {
		return t.(*rateUtilTracker)
	}
	t := &rateUtilTracker{}
	actual, _ := c.rateUtils.LoadOrStore(tenantID, t)
	return actual.(*rateUtilTracker)
}

// maxRateUtil returns the highest current rate-utilization EWMA across all
// tenants seen by CheckRateLimit.
func (c *Controller) maxRateUtil() float64 {
	var max float64
	c.rateUtils.Range(func(_, v any) bool {
		t := v.(*rateUtilTracker)
		t.mu.Lock()
		if t.ewma > max {
			max = t.ewma
		}
		t.mu.Unlock()
		return true
	})
	return max
}

// ShouldConsume is false in CRITICAL or OVERLOADED.
func (c *Controller) ShouldConsume() bool {
	s := c.State()
	return s != StateCritical && s != StateOverloaded
}

// ShouldDropLowPriority is true in OVERLOADED when the policy enables it.
func (c *Controller) ShouldDropLowPriority() bool {
	return c.State() == StateOverloaded && c.policy.DropLowPriorityWhenOverloaded
}

// AdaptiveDelay returns the ladder 0/100ms/500ms/1s across the four states.
func (c *Controller) AdaptiveDelay() time.Duration {
	switch c.State() {
	case StateWarning:
		return 100 * time.Millisecond
	case StateCritical:
		return 500 * time.Millisecond
	case StateOverloaded:
		return time.Second
	default:
		return 0
	}
}

// State returns the current backpressure state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) recheck() {
	rateUtil := c.maxRateUtil()

	c.mu.Lock()
	queueUtil := ratio(c.queueDepth, c.policy.MaxQueueDepth)
	inFlightUtil := ratio(c.inFlight, c.policy.MaxInFlight)
	utilization := max3(queueUtil, inFlightUtil, rateUtil)
	newState := c.policy.stateFor(utilization)
	oldState := c.state
	stateChanged := newState != oldState
	var shouldAlert bool
	if stateChanged {
		c.state = newState
		now := time.Now()
		if now.Sub(c.lastAlertAt) >= c.policy.AlertCooldown {
			c.lastAlertAt = now
			shouldAlert = true
		}
	}
	cb := c.onStateChange
	c.mu.Unlock()

	if stateChanged && shouldAlert && cb != nil {
		func() {
			defer func() { recover() }()
			cb(oldState, newState)
		}()
	}
}

func ratio(v, max int64) float64 {
	if max <= 0 {
		return 0
	}
	return float64(v) / float64(max)
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
