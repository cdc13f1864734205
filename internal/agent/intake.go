package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// timestampFieldNames are the raw-payload keys Intake checks, in order,
// when looking for an event timestamp.
var timestampFieldNames = []string{"timestamp", "occurred_at", "occurredAt", "event_time", "eventTime", "created_at", "createdAt"}

var alnumUnderscore = regexp.MustCompile(`^[a-z0-9_]+$`)

// IntakeAgent normalizes a raw payload into a canonical ExceptionRecord.
type IntakeAgent struct {
	Logger *audit.Logger
}

func (a *IntakeAgent) Name() string { return "intake" }

func (a *IntakeAgent) Process(ctx context.Context, rec *domain.ExceptionRecord, stageCtx Context) (*domain.AgentDecision, error) {
	payload := rec.RawPayload
	if payload == nil {
		payload = map[string]any{}
	}

	if rec.ExceptionID == "" {
		if v, ok := firstNonEmptyString(payload, "exception_id", "exceptionId"); ok {
			rec.ExceptionID = v
		} else {
			rec.ExceptionID = uuid.NewString()
		}
	}

	if rec.TenantID == "" {
		if v, ok := firstNonEmptyString(payload, "tenant_id", "tenantId"); ok {
			rec.TenantID = v
		}
	}
	if rec.TenantID == "" {
		decision := &domain.AgentDecision{Decision: "Rejected - missing tenant_id", Confidence: 0, NextStep: ""}
		err := apperr.New(apperr.ErrValidationFailed, "intake: tenant_id is required")
		auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, err)
		return decision, err
	}

	if rec.SourceSystem == "" {
		if v, ok := firstNonEmptyString(payload, "source_system", "sourceSystem"); ok {
			rec.SourceSystem = v
		} else {
			rec.SourceSystem = "UNKNOWN"
		}
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = parseTimestamp(payload)
	}

	validated := true
	if rec.ExceptionType != nil {
		canon := canonicalizeExceptionType(*rec.ExceptionType)
		rec.ExceptionType = &canon
		if pack, ok := stageCtx[CtxDomainPack].(*domain.DomainPack); ok && pack != nil {
			if _, known := pack.ExceptionTypes[canon]; !known {
				validated = false
			}
		}
	}

	if rec.NormalizedContext == nil {
		rec.NormalizedContext = map[string]any{}
	}
	pipelineID, ok := firstNonEmptyString(payload, "pipeline_id", "pipelineId")
	if !ok {
		pipelineID = uuid.NewString()
	}
	rec.NormalizedContext["pipelineId"] = pipelineID
	rec.NormalizedContext["normalizedAt"] = time.Now().UTC().Format(time.RFC3339)

	label := "Normalized"
	confidence := 0.8
	switch {
	case rec.ExceptionType != nil && validated:
		label = fmt.Sprintf("Normalized as %s", *rec.ExceptionType)
		confidence = 1.0
	case rec.ExceptionType != nil && !validated:
		label = fmt.Sprintf("Normalized as %s (validation errors)", *rec.ExceptionType)
		confidence = 0.5
	case rec.ExceptionType == nil:
		confidence = 0.8
	}

	decision := &domain.AgentDecision{
		Decision:   label,
		Confidence: confidence,
		NextStep:   "ProceedToTriage",
	}
	auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, nil)
	return decision, nil
}

// canonicalizeExceptionType strips leading colons/whitespace and uppercases
// values that are all-lowercase alphanumeric/underscore.
func canonicalizeExceptionType(raw string) string {
	s := strings.TrimLeft(strings.TrimSpace(raw), ":")
	s = strings.TrimSpace(s)
	if alnumUnderscore.MatchString(s) {
		return strings.ToUpper(s)
	}
	return s
}

func parseTimestamp(payload map[string]any) time.Time {
	for _, key := range timestampFieldNames {
		v, ok := payload[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			return t.UTC()
		case string:
			for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, t); err == nil {
					return parsed.UTC()
				}
			}
		}
	}
	return time.Now().UTC()
}

func runIDFrom(stageCtx Context) string {
	if v, ok := stageCtx[CtxRunID].(string); ok {
		return v
	}
	return ""
}
