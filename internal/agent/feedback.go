package agent

import (
	"context"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/metrics"
)

// metricsRecorder is the narrow slice of metrics.Collector Feedback needs.
type metricsRecorder interface {
	RecordException(tenantID, status, actionability string, resolutionTimeMs *float64, confidence float64)
}

// FeedbackAgent summarizes a pipeline run's outcome, records it to the
// Metrics Collector, and writes a terminal outcome event. Unlike
// Resolution, this agent is fully implemented rather than a collaborator
// interface only, per SPEC_FULL.md §4.10.5.
type FeedbackAgent struct {
	Logger  *audit.Logger
	Events  eventAppender
	Metrics metricsRecorder
}

var _ metricsRecorder = (*metrics.Collector)(nil)

func (a *FeedbackAgent) Name() string { return "feedback" }

func (a *FeedbackAgent) Process(ctx context.Context, rec *domain.ExceptionRecord, stageCtx Context) (*domain.AgentDecision, error) {
	skipped, _ := stageCtx["skipped"].(string)

	actionability := string(actionabilityFor(rec, stageCtx))
	var resolutionTimeMs *float64
	if !rec.Timestamp.IsZero() {
		ms := float64(time.Since(rec.Timestamp).Milliseconds())
		resolutionTimeMs = &ms
	}

	policyDecision, _ := StageDecision(stageCtx, "policy")
	confidence := 1.0
	if policyDecision != nil {
		confidence = policyDecision.Confidence
	}

	if a.Metrics != nil {
		a.Metrics.RecordException(rec.TenantID, string(rec.ResolutionStatus), actionability, resolutionTimeMs, confidence)
	}

	label := "Completed"
	if skipped != "" {
		label = "Completed (" + skipped + ")"
	} else if rec.ResolutionStatus == domain.StatusEscalated {
		label = "Escalated"
	} else if rec.ResolutionStatus == domain.StatusFailed {
		label = "Failed"
	}

	if a.Events != nil {
		_, _ = a.Events.AppendIfNew(ctx, rec.TenantID, domain.Event{
			EventID:     rec.ExceptionID + ":outcome",
			ExceptionID: rec.ExceptionID,
			TenantID:    rec.TenantID,
			EventType:   "OutcomeRecorded",
			ActorType:   domain.ActorAgent,
			Payload: map[string]any{
				"status":        rec.ResolutionStatus,
				"actionability": actionability,
				"summary":       label,
			},
		})
	}

	decision := &domain.AgentDecision{Decision: label, Confidence: confidence, NextStep: ""}
	auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, nil)
	return decision, nil
}

func actionabilityFor(rec *domain.ExceptionRecord, stageCtx Context) domain.Actionability {
	policyDecision, _ := StageDecision(stageCtx, "policy")
	if policyDecision == nil {
		return domain.NonActionableInfoOnly
	}
	switch policyDecision.Decision {
	case "Approved", "Approved - Human approval required":
		return domain.ActionableApprovedProcess
	case "Blocked - Playbook not approved":
		return domain.ActionableNonApprovedProcess
	default:
		return domain.NonActionableInfoOnly
	}
}
