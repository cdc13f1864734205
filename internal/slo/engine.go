// Package slo implements the SLO Engine (SPEC_FULL.md §4.12): periodic
// comparison of Metrics Collector output against each tenant's
// domain.SLOTarget, producing a per-dimension pass/fail/margin report.
// Grounded on original_source/src/observability/slo_engine.py for the
// dimension set and the AND-over-dimensions overall status rule.
package slo

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// metricsSource is the narrow slice of metrics.Collector the engine reads.
type metricsSource interface {
	ToolLatencySamples(tenantID string) []float64
	ToolInvocationTotals(tenantID string) (invocations, failures int64)
	ResolutionTimestampsMs(tenantID string) []float64
	ExceptionCounts(tenantID string) (total, resolved int64)
}

// Dimension is one SLO comparison result.
type Dimension struct {
	Name    string  `json:"name"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Passed  bool    `json:"passed"`
	// Margin is target-relative: positive means comfortably within target,
	// negative means in violation. For "lower is better" dimensions
	// (latency, error rate, MTTR) margin = target - current; for "higher is
	// better" dimensions (auto-resolution rate, throughput) margin = current
	// - target.
	Margin float64 `json:"margin"`
}

// Report is one tenant's SLO evaluation for one run.
type Report struct {
	TenantID      string      `json:"tenant_id"`
	Domain        string      `json:"domain,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Dimensions    []Dimension `json:"dimensions"`
	OverallPassed bool        `json:"overall_passed"`
}

// RunbookSuggester is the external collaborator consulted when a run's
// overall_passed is false, to suggest remediation runbooks.
type RunbookSuggester interface {
	Suggest(tenantID, domain string, failing []Dimension) ([]string, error)
}

// Notifier publishes an SLO-violation notification externally.
type Notifier interface {
	Notify(report Report, runbooks []string) error
}

// Engine evaluates SLOTargets against Metrics Collector samples. It never
// mutates exception or event state.
type Engine struct {
	Metrics   metricsSource
	Suggester RunbookSuggester // optional
	Notifier  Notifier         // optional
	Logger    *slog.Logger
}

// NewEngine constructs an Engine. logger defaults to slog.Default() if nil.
func NewEngine(metricsSrc metricsSource, suggester RunbookSuggester, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Metrics: metricsSrc, Suggester: suggester, Notifier: notifier, Logger: logger}
}

// Evaluate computes a Report for tenantID against target, optionally scoped
// to windowSeconds for throughput.
func (e *Engine) Evaluate(tenantID, domainName string, target domain.SLOTarget, windowSeconds float64) Report {
	report := Report{TenantID: tenantID, Domain: domainName, Timestamp: time.Now().UTC()}

	p95 := percentile(e.Metrics.ToolLatencySamples(tenantID), 0.95)
	report.Dimensions = append(report.Dimensions, lowerIsBetter("p95_latency_ms", p95, target.TargetLatencyMsP95))

	invocations, failures := e.Metrics.ToolInvocationTotals(tenantID)
	errorRate := 0.0
	if invocations > 0 {
		errorRate = float64(failures) / float64(invocations)
	}
	report.Dimensions = append(report.Dimensions, lowerIsBetter("error_rate", errorRate, target.TargetErrorRate))

	mttr := mttrMinutes(e.Metrics.ResolutionTimestampsMs(tenantID))
	report.Dimensions = append(report.Dimensions, lowerIsBetter("mttr_minutes", mttr, target.TargetMTTRMinutes))

	total, resolved := e.Metrics.ExceptionCounts(tenantID)
	autoResolutionRate := 0.0
	if total > 0 {
		autoResolutionRate = float64(resolved) / float64(total)
	}
	report.Dimensions = append(report.Dimensions, higherIsBetter("auto_resolution_rate", autoResolutionRate, target.TargetAutoResolutionRate))

	if target.TargetThroughputEPS != nil && windowSeconds > 0 {
		throughput := float64(total) / windowSeconds
		report.Dimensions = append(report.Dimensions, higherIsBetter("throughput_eps", throughput, *target.TargetThroughputEPS))
	}

	report.OverallPassed = true
	for _, d := range report.Dimensions {
		if !d.Passed {
			report.OverallPassed = false
			break
		}
	}
	return report
}

// Run evaluates every tenant in targets, logs each report as a JSONL line
// via logFn, and for any failing report consults the Suggester/Notifier
// collaborators (both optional; errors from either are logged, not
// propagated, since engine runs must never fail the caller's schedule
// loop).
func (e *Engine) Run(targets map[string]TenantTarget, logFn func(line string)) []Report {
	tenantIDs := make([]string, 0, len(targets))
	for id := range targets {
		tenantIDs = append(tenantIDs, id)
	}
	sort.Strings(tenantIDs)

	reports := make([]Report, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		dt := targets[tenantID]
		report := e.Evaluate(tenantID, dt.Domain, dt.Target, dt.WindowSeconds)
		reports = append(reports, report)

		if logFn != nil {
			if line, err := json.Marshal(report); err == nil {
				logFn(string(line))
			}
		}

		if !report.OverallPassed {
			e.handleViolation(report)
		}
	}
	return reports
}

// TenantTarget pairs a tenant's SLOTarget with its domain name and
// evaluation window, as fed to Run.
type TenantTarget struct {
	Domain        string
	Target        domain.SLOTarget
	WindowSeconds float64
}

func (e *Engine) handleViolation(report Report) {
	var failing []Dimension
	for _, d := range report.Dimensions {
		if !d.Passed {
			failing = append(failing, d)
		}
	}

	var runbooks []string
	if e.Suggester != nil {
		suggested, err := e.Suggester.Suggest(report.TenantID, report.Domain, failing)
		if err != nil {
			e.Logger.Warn("runbook suggestion failed", "tenant_id", report.TenantID, "error", err)
		} else {
			runbooks = suggested
		}
	}
	if e.Notifier != nil {
		if err := e.Notifier.Notify(report, runbooks); err != nil {
			e.Logger.Warn("slo violation notification failed", "tenant_id", report.TenantID, "error", err)
		}
	}
}

func lowerIsBetter(name string, current, target float64) Dimension {
	return Dimension{Name: name, Current: current, Target: target, Passed: current <= target, Margin: target - current}
}

func higherIsBetter(name string, current, target float64) Dimension {
	return Dimension{Name: name, Current: current, Target: target, Passed: current >= target, Margin: current - target}
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

// mttrMinutes computes the average successive difference between sorted
// resolution timestamps (ms), per spec §4.12.
func mttrMinutes(timestampsMs []float64) float64 {
	if len(timestampsMs) < 2 {
		return 0
	}
	sorted := append([]float64(nil), timestampsMs...)
	sort.Float64s(sorted)
	var sum float64
	for i := 1; i < len(sorted); i++ {
		sum += sorted[i] - sorted[i-1]
	}
	avgMs := sum / float64(len(sorted)-1)
	return avgMs / 60000.0
}
