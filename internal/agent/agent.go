// Package agent implements the staged pipeline agents (SPEC_FULL.md
// §4.10): Intake, Triage, Policy, and the Resolution/Feedback
// collaborator-interface agents, each producing a domain.AgentDecision
// from an ExceptionRecord and a shared, mutable stage context.
package agent

import (
	"context"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// Context is the mutable mapping threaded through every stage of one
// exception's pipeline run, keyed by stage name for stage outputs plus a
// small set of well-known keys the orchestrator seeds before each stage.
type Context map[string]any

// Well-known Context keys the orchestrator populates before invoking an
// agent.
const (
	CtxDomainPack          = "domain_pack"          // *domain.DomainPack, effective (tenant-overlaid)
	CtxTenantPolicy        = "tenant_policy"        // *domain.TenantPolicyPack, may be absent
	CtxRunID               = "run_id"               // string, audit correlation id for this pipeline run
	CtxSuggestedPlaybookID = "suggested_playbook_id" // *int64, set by an upstream matcher if present
)

// StageDecision returns stageName's recorded decision, if the orchestrator
// has already run and recorded that stage in stageCtx (the orchestrator
// stores stageCtx[stageName] = *domain.AgentDecision after each stage
// completes, making earlier decisions visible to later stages).
func StageDecision(stageCtx Context, stageName string) (*domain.AgentDecision, bool) {
	d, ok := stageCtx[stageName].(*domain.AgentDecision)
	return d, ok
}

// Agent is the uniform stage interface every pipeline stage implements.
type Agent interface {
	// Name identifies the agent for audit/event records.
	Name() string
	// Process runs the agent against rec, reading/writing stageCtx as
	// needed, and returns the stage's decision.
	Process(ctx context.Context, rec *domain.ExceptionRecord, stageCtx Context) (*domain.AgentDecision, error)
}

// auditLog writes one agent_event entry when logger is configured (nil
// logger is valid: auditing is optional per spec §4.10).
func auditLog(logger *audit.Logger, runID, tenantID, agentName string, decision *domain.AgentDecision, err error) {
	if logger == nil || runID == "" {
		return
	}
	data := map[string]any{
		"agent":     agentName,
		"timestamp": time.Now().UTC(),
	}
	if decision != nil {
		data["decision"] = decision.Decision
		data["confidence"] = decision.Confidence
		data["next_step"] = decision.NextStep
		data["evidence"] = decision.Evidence
	}
	if err != nil {
		data["error"] = err.Error()
	}
	_ = logger.Write(runID, tenantID, audit.EventAgentEvent, data)
}

func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func firstNonEmptyString(payload map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := stringValue(v); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
