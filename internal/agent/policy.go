package agent

import (
	"context"

	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/playbook"
)

// eventAppender is the narrow slice of store.EventLog Policy needs for its
// idempotent PolicyEvaluated event.
type eventAppender interface {
	AppendIfNew(ctx context.Context, tenantID string, event domain.Event) (bool, error)
}

// PolicyAgent evaluates guardrails and playbook approval, per spec §4.10.3.
type PolicyAgent struct {
	Logger *audit.Logger
	Events eventAppender
}

func (a *PolicyAgent) Name() string { return "policy" }

func (a *PolicyAgent) Process(ctx context.Context, rec *domain.ExceptionRecord, stageCtx Context) (*domain.AgentDecision, error) {
	pack, _ := stageCtx[CtxDomainPack].(*domain.DomainPack)
	tenantPolicy, _ := stageCtx[CtxTenantPolicy].(*domain.TenantPolicyPack)

	// Step 1: tenant severity overrides are authoritative from here on.
	if tenantPolicy != nil && rec.ExceptionType != nil {
		if override, ok := tenantPolicy.CustomSeverityOverrides[*rec.ExceptionType]; ok {
			rec.Severity = override
		}
	}

	// Step 2: candidate playbooks for the normalized exception type.
	var candidates []domain.Playbook
	if pack != nil {
		candidates = pack.Playbooks
	}
	var matched *domain.Playbook
	if rec.ExceptionType != nil {
		m, err := playbook.Match(candidates, playbook.Context{
			Domain:        packDomainName(pack),
			ExceptionType: *rec.ExceptionType,
			Severity:      rec.Severity,
		})
		if err == nil {
			matched = m
		}
	}

	approved := false
	if matched != nil && tenantPolicy != nil && rec.ExceptionType != nil {
		approved = tenantPolicy.ApprovedBusinessProcesses[*rec.ExceptionType]
	}

	guardrailThreshold := 0.0
	if pack != nil {
		guardrailThreshold = pack.Guardrails.HumanApprovalThreshold
	}

	triageDecision, _ := StageDecision(stageCtx, "triage")
	confidence := 1.0
	if triageDecision != nil {
		confidence = triageDecision.Confidence
	}

	// Step 3: actionability.
	var actionability domain.Actionability
	switch {
	case matched != nil && approved:
		actionability = domain.ActionableApprovedProcess
	case matched != nil && !approved:
		actionability = domain.ActionableNonApprovedProcess
	default:
		actionability = domain.NonActionableInfoOnly
	}
	if matched != nil && rec.Severity == domain.SeverityCritical && requiresApproval(tenantPolicy) && !approved {
		actionability = domain.NonActionableInfoOnly
	}

	// Step 4: human-approval requirement.
	approvalRequired := confidence < guardrailThreshold || (rec.Severity == domain.SeverityCritical && requiresApproval(tenantPolicy))
	for _, rule := range tenantPolicyApprovalRules(tenantPolicy) {
		if rule.Severity == rec.Severity && rule.RequireApproval {
			approvalRequired = true
		}
	}

	// Step 5: escalation.
	escalate := confidence < guardrailThreshold-0.1

	var decisionLabel, nextStep string
	switch {
	case escalate:
		decisionLabel = "Escalate"
		nextStep = "Escalate"
	case actionability == domain.NonActionableInfoOnly:
		decisionLabel = "Blocked - Non-actionable"
		nextStep = "ProceedToResolution"
	case actionability == domain.ActionableNonApprovedProcess:
		decisionLabel = "Blocked - Playbook not approved"
		nextStep = "ProceedToResolution"
	case approvalRequired:
		decisionLabel = "Approved - Human approval required"
		nextStep = "ProceedToResolution"
	default:
		decisionLabel = "Approved"
		nextStep = "ProceedToResolution"
	}

	// Step 6: playbook assignment, only outside Blocked/Escalate outcomes.
	if decisionLabel != "Blocked - Non-actionable" && decisionLabel != "Blocked - Playbook not approved" && decisionLabel != "Escalate" {
		playbookID := matched
		if suggested, ok := stageCtx[CtxSuggestedPlaybookID].(*int64); ok && suggested != nil {
			id := *suggested
			rec.CurrentPlaybookID = &id
			step := 1
			rec.CurrentStep = &step
		} else if playbookID != nil {
			id := playbookID.ID
			rec.CurrentPlaybookID = &id
			step := 1
			rec.CurrentStep = &step
		}
	}

	if approvalRequired && decisionLabel == "Approved - Human approval required" {
		rec.ResolutionStatus = domain.StatusPendingApproval
	}
	if escalate {
		rec.ResolutionStatus = domain.StatusEscalated
	}

	if a.Events != nil {
		var playbookID *int64
		if rec.CurrentPlaybookID != nil {
			playbookID = rec.CurrentPlaybookID
		}
		_, _ = a.Events.AppendIfNew(ctx, rec.TenantID, domain.Event{
			EventID:     rec.ExceptionID + ":policy-evaluated",
			ExceptionID: rec.ExceptionID,
			TenantID:    rec.TenantID,
			EventType:   "PolicyEvaluated",
			ActorType:   domain.ActorAgent,
			Payload: map[string]any{
				"playbook_id": playbookID,
				"reasoning":   decisionLabel,
				"decision":    decisionLabel,
			},
		})
	}

	decision := &domain.AgentDecision{
		Decision:   decisionLabel,
		Confidence: confidence,
		NextStep:   nextStep,
	}
	auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, nil)
	return decision, nil
}

func packDomainName(pack *domain.DomainPack) string {
	if pack == nil {
		return ""
	}
	return pack.DomainName
}

func requiresApproval(tenantPolicy *domain.TenantPolicyPack) bool {
	if tenantPolicy == nil {
		return true
	}
	for _, rule := range tenantPolicy.HumanApprovalRules {
		if rule.Severity == domain.SeverityCritical {
			return rule.RequireApproval
		}
	}
	return true
}

func tenantPolicyApprovalRules(tenantPolicy *domain.TenantPolicyPack) []domain.HumanApprovalRule {
	if tenantPolicy == nil {
		return nil
	}
	return tenantPolicy.HumanApprovalRules
}
