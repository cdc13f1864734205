// Package metrics implements the Metrics Collector (SPEC_FULL.md §4.5):
// per-tenant counters, bounded sample buffers, and percentile computation
// at query time. Built fresh in the teacher's idiom (plain structs guarded
// by sync.RWMutex, matching pkg/session/manager.go) since the teacher has
// no direct metrics-collector analogue.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const sampleCapacity = 10_000

// ring is a fixed-capacity ring buffer of float64 samples, oldest evicted.
type ring struct {
	buf   []float64
	next  int
	count int
}

func newRing() *ring { return &ring{buf: make([]float64, sampleCapacity)} }

func (r *ring) add(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % sampleCapacity
	if r.count < sampleCapacity {
		r.count++
	}
}

func (r *ring) snapshot() []float64 {
	out := make([]float64, r.count)
	copy(out, r.buf[:r.count])
	return out
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ToolMetrics tracks per-tool invocation outcomes.
type ToolMetrics struct {
	Invocations int64
	Successes   int64
	Failures    int64
	Retries     int64
	latency     *ring
}

// PlaybookMetrics tracks per-playbook execution outcomes.
type PlaybookMetrics struct {
	Executions      int64
	Successes       int64
	CumulativeTimeMs float64
}

// RecurrenceMetrics tracks per-exception-type recurrence.
type RecurrenceMetrics struct {
	Count        int64
	UniqueIDs    map[string]bool
	FirstSeen    time.Time
	LastSeen     time.Time
}

// ApprovalQueueMetrics tracks the human-approval queue.
type ApprovalQueueMetrics struct {
	Pending         int64
	OldestPendingAt *time.Time
	Approved        int64
	Rejected        int64
	TimedOut        int64
}

// ConfidenceBuckets holds the fixed [0,.5) [.5,.7) [.7,.9) [.9,1] buckets.
type ConfidenceBuckets struct {
	Below05    int64
	From05To07 int64
	From07To09 int64
	From09To10 int64
}

// TenantMetrics is the per-tenant structure described in SPEC_FULL.md §4.5.
type TenantMetrics struct {
	mu sync.Mutex

	ExceptionTotalsByStatus       map[string]int64
	ExceptionTotalsByActionability map[string]int64
	ResolvedCount                 int64
	TotalCount                    int64
	resolutionTimesMs             *ring

	Playbooks map[string]*PlaybookMetrics
	Tools     map[string]*ToolMetrics

	ApprovalQueue ApprovalQueueMetrics
	Recurrence    map[string]*RecurrenceMetrics

	confidenceSamples *ring
	ConfidenceBuckets ConfidenceBuckets

	ExplanationsGenerated int64
	explanationLatencyMs  *ring
	explanationQuality    *ring
}

func newTenantMetrics() *TenantMetrics {
	return &TenantMetrics{
		ExceptionTotalsByStatus:        make(map[string]int64),
		ExceptionTotalsByActionability: make(map[string]int64),
		resolutionTimesMs:              newRing(),
		Playbooks:                      make(map[string]*PlaybookMetrics),
		Tools:                          make(map[string]*ToolMetrics),
		Recurrence:                     make(map[string]*RecurrenceMetrics),
		confidenceSamples:              newRing(),
		explanationLatencyMs:           newRing(),
		explanationQuality:             newRing(),
	}
}

// Snapshot is a read-only view returned by GetMetrics.
type Snapshot struct {
	ExceptionTotalsByStatus        map[string]int64
	ExceptionTotalsByActionability map[string]int64
	AutoResolutionRate             float64
	MTTRMinutes                    float64
	Playbooks                      map[string]PlaybookMetrics
	Tools                          map[string]ToolSnapshot
	ApprovalQueue                  ApprovalQueueMetrics
	Recurrence                     map[string]RecurrenceSnapshot
	ConfidenceBuckets              ConfidenceBuckets
	ExplanationsGenerated          int64
}

// ToolSnapshot adds computed latency percentiles to ToolMetrics.
type ToolSnapshot struct {
	ToolMetrics
	P50LatencyMs float64
	P95LatencyMs float64
}

// RecurrenceSnapshot exposes the unique-id count instead of the live set.
type RecurrenceSnapshot struct {
	Count       int64
	UniqueCount int
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Collector is the process-wide (but explicitly constructed, not a
// singleton) metrics store, keyed by tenant.
type Collector struct {
	mu      sync.RWMutex
	tenants map[string]*TenantMetrics
}

// NewCollector builds an empty Collector.
func NewCollector() *Collector {
	return &Collector{tenants: make(map[string]*TenantMetrics)}
}

func (c *Collector) tenant(tenantID string) *TenantMetrics {
	c.mu.RLock()
	t, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if ok {
		return t
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tenants[tenantID]; ok {
		return t
	}
	t = newTenantMetrics()
	c.tenants[tenantID] = t
	return t
}

// RecordException records an exception's terminal status, actionability,
// and (if resolved) resolution time.
func (c *Collector) RecordException(tenantID, status, actionability string, resolutionTimeMs *float64, confidence float64) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ExceptionTotalsByStatus[status]++
	if actionability != "" {
		t.ExceptionTotalsByActionability[actionability]++
	}
	t.TotalCount++
	if status == "RESOLVED" {
		t.ResolvedCount++
		if resolutionTimeMs != nil {
			t.resolutionTimesMs.add(*resolutionTimeMs)
		}
	}
	t.confidenceSamples.add(confidence)
	switch {
	case confidence < 0.5:
		t.ConfidenceBuckets.Below05++
	case confidence < 0.7:
		t.ConfidenceBuckets.From05To07++
	case confidence < 0.9:
		t.ConfidenceBuckets.From07To09++
	default:
		t.ConfidenceBuckets.From09To10++
	}
}

// RecordPlaybookExecution records one playbook run's outcome.
func (c *Collector) RecordPlaybookExecution(tenantID, playbookName string, success bool, durationMs float64) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	pm, ok := t.Playbooks[playbookName]
	if !ok {
		pm = &PlaybookMetrics{}
		t.Playbooks[playbookName] = pm
	}
	pm.Executions++
	if success {
		pm.Successes++
	}
	pm.CumulativeTimeMs += durationMs
}

// RecordToolInvocation records one tool call's outcome, with retries,
// into a bounded latency sample ring.
func (c *Collector) RecordToolInvocation(tenantID, toolName string, success bool, retried bool, latencyMs float64) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.Tools[toolName]
	if !ok {
		tm = &ToolMetrics{latency: newRing()}
		t.Tools[toolName] = tm
	}
	tm.Invocations++
	if success {
		tm.Successes++
	} else {
		tm.Failures++
	}
	if retried {
		tm.Retries++
	}
	tm.latency.add(latencyMs)
}

// RecordExceptionTypeSeen tracks recurrence for an exception type.
func (c *Collector) RecordExceptionTypeSeen(tenantID, exceptionType, exceptionID string, when time.Time) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	rm, ok := t.Recurrence[exceptionType]
	if !ok {
		rm = &RecurrenceMetrics{UniqueIDs: make(map[string]bool), FirstSeen: when, LastSeen: when}
		t.Recurrence[exceptionType] = rm
	}
	rm.Count++
	rm.UniqueIDs[exceptionID] = true
	if when.Before(rm.FirstSeen) {
		rm.FirstSeen = when
	}
	if when.After(rm.LastSeen) {
		rm.LastSeen = when
	}
}

// UpdateApprovalQueue overwrites the approval queue snapshot fields.
func (c *Collector) UpdateApprovalQueue(tenantID string, pending int64, oldestPendingAt *time.Time) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ApprovalQueue.Pending = pending
	t.ApprovalQueue.OldestPendingAt = oldestPendingAt
}

// RecordApprovalOutcome increments the approved/rejected/timed-out counters.
func (c *Collector) RecordApprovalOutcome(tenantID, outcome string) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	switch outcome {
	case "approved":
		t.ApprovalQueue.Approved++
	case "rejected":
		t.ApprovalQueue.Rejected++
	case "timed_out":
		t.ApprovalQueue.TimedOut++
	}
}

// RecordExplanationGenerated records one explanation's latency and quality.
func (c *Collector) RecordExplanationGenerated(tenantID string, latencyMs, quality float64) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ExplanationsGenerated++
	t.explanationLatencyMs.add(latencyMs)
	t.explanationQuality.add(quality)
}

// GetMetrics returns a Snapshot for tenantID, computing percentiles over
// the live sample buffers.
func (c *Collector) GetMetrics(tenantID string) Snapshot {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshotLocked(t)
}

// GetAllMetrics returns a Snapshot per known tenant.
func (c *Collector) GetAllMetrics() map[string]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Snapshot, len(c.tenants))
	for id, t := range c.tenants {
		t.mu.Lock()
		out[id] = snapshotLocked(t)
		t.mu.Unlock()
	}
	return out
}

// Reset clears a tenant's metrics entirely.
func (c *Collector) Reset(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants[tenantID] = newTenantMetrics()
}

func snapshotLocked(t *TenantMetrics) Snapshot {
	autoResolution := 0.0
	if t.TotalCount > 0 {
		autoResolution = float64(t.ResolvedCount) / float64(t.TotalCount)
	}
	resolutionSamples := t.resolutionTimesMs.snapshot()
	mttr := 0.0
	if len(resolutionSamples) > 0 {
		sum := 0.0
		for _, s := range resolutionSamples {
			sum += s
		}
		mttr = sum / float64(len(resolutionSamples)) / 60000.0
	}

	playbooks := make(map[string]PlaybookMetrics, len(t.Playbooks))
	for k, v := range t.Playbooks {
		playbooks[k] = *v
	}
	tools := make(map[string]ToolSnapshot, len(t.Tools))
	for k, v := range t.Tools {
		samples := v.latency.snapshot()
		tools[k] = ToolSnapshot{
			ToolMetrics:  *v,
			P50LatencyMs: percentile(samples, 0.50),
			P95LatencyMs: percentile(samples, 0.95),
		}
	}
	recurrence := make(map[string]RecurrenceSnapshot, len(t.Recurrence))
	for k, v := range t.Recurrence {
		recurrence[k] = RecurrenceSnapshot{Count: v.Count, UniqueCount: len(v.UniqueIDs), FirstSeen: v.FirstSeen, LastSeen: v.LastSeen}
	}

	statusCopy := make(map[string]int64, len(t.ExceptionTotalsByStatus))
	for k, v := range t.ExceptionTotalsByStatus {
		statusCopy[k] = v
	}
	actionabilityCopy := make(map[string]int64, len(t.ExceptionTotalsByActionability))
	for k, v := range t.ExceptionTotalsByActionability {
		actionabilityCopy[k] = v
	}

	return Snapshot{
		ExceptionTotalsByStatus:        statusCopy,
		ExceptionTotalsByActionability: actionabilityCopy,
		AutoResolutionRate:             autoResolution,
		MTTRMinutes:                    mttr,
		Playbooks:                      playbooks,
		Tools:                          tools,
		ApprovalQueue:                  t.ApprovalQueue,
		Recurrence:                     recurrence,
		ConfidenceBuckets:              t.ConfidenceBuckets,
		ExplanationsGenerated:          t.ExplanationsGenerated,
	}
}

// ToolLatencySamples exposes the raw latency sample union across all tools
// for a tenant, used by the SLO Engine's p95 computation.
func (c *Collector) ToolLatencySamples(tenantID string) []float64 {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []float64
	for _, tm := range t.Tools {
		all = append(all, tm.latency.snapshot()...)
	}
	return all
}

// ToolInvocationTotals exposes raw invocation/failure counts for the SLO
// Engine's error-rate computation.
func (c *Collector) ToolInvocationTotals(tenantID string) (invocations, failures int64) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tm := range t.Tools {
		invocations += tm.Invocations
		failures += tm.Failures
	}
	return
}

// ResolutionTimestampsMs exposes the raw resolution-time samples (ms) for
// the SLO Engine's MTTR computation.
func (c *Collector) ResolutionTimestampsMs(tenantID string) []float64 {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolutionTimesMs.snapshot()
}

// ExceptionCounts exposes the raw total/resolved counts for the SLO
// Engine's auto-resolution-rate and throughput computation.
func (c *Collector) ExceptionCounts(tenantID string) (total, resolved int64) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.TotalCount, t.ResolvedCount
}
