package api

import (
	"time"

	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/metrics"
	"github.com/codeready-toolchain/tarsy/internal/store"
)

// IngestRequest is the body of POST /exceptions/{tenant_id}: either a
// single exception or a batch, per spec.md §6.
type IngestRequest struct {
	Exception  map[string]any   `json:"exception"`
	Exceptions []map[string]any `json:"exceptions"`
}

// IngestResponse is returned by POST /exceptions/{tenant_id}.
type IngestResponse struct {
	ExceptionIDs []string `json:"exceptionIds"`
	Count        int      `json:"count"`
}

// ExceptionResponse is returned by GET /exceptions/{tenant_id}/{exception_id}.
type ExceptionResponse struct {
	ExceptionID       string                  `json:"exceptionId"`
	TenantID          string                  `json:"tenantId"`
	SourceSystem      string                  `json:"sourceSystem"`
	ExceptionType     *string                 `json:"exceptionType"`
	Severity          domain.Severity         `json:"severity"`
	ResolutionStatus  domain.ResolutionStatus `json:"resolutionStatus"`
	RawPayload        map[string]any          `json:"rawPayload"`
	NormalizedContext map[string]any          `json:"normalizedContext"`
	CurrentPlaybookID *int64                  `json:"currentPlaybookId"`
	CurrentStep       *int                    `json:"currentStep"`
	Timestamp         time.Time               `json:"timestamp"`
	PipelineResult    *store.PipelineResult   `json:"pipelineResult,omitempty"`
}

func exceptionResponseFrom(rec *domain.ExceptionRecord, result *store.PipelineResult) *ExceptionResponse {
	return &ExceptionResponse{
		ExceptionID:       rec.ExceptionID,
		TenantID:          rec.TenantID,
		SourceSystem:      rec.SourceSystem,
		ExceptionType:     rec.ExceptionType,
		Severity:          rec.Severity,
		ResolutionStatus:  rec.ResolutionStatus,
		RawPayload:        rec.RawPayload,
		NormalizedContext: rec.NormalizedContext,
		CurrentPlaybookID: rec.CurrentPlaybookID,
		CurrentStep:       rec.CurrentStep,
		Timestamp:         rec.Timestamp,
		PipelineResult:    result,
	}
}

// MetricsResponse wraps a metrics.Snapshot for GET /metrics/{tenant_id}.
type MetricsResponse = metrics.Snapshot

// AllMetricsResponse is returned by GET /metrics (map of tenant id -> snapshot).
type AllMetricsResponse = map[string]metrics.Snapshot

// ErrorResponse is the standard JSON error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
