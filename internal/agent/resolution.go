package agent

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/playbook"
)

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Success bool
	Output  map[string]any
	Error   string
}

// ToolExecutor is the Resolution Agent's external tool-execution
// collaborator (SPEC_FULL.md §4.10.4, backed by internal/toolrpc's gRPC
// client in production, and by an in-memory stub in tests).
type ToolExecutor interface {
	Execute(ctx context.Context, action string, params map[string]any) (ToolResult, error)
}

// ResolutionAgent executes one playbook step per invocation through a
// ToolExecutor collaborator, advancing current_step on success.
type ResolutionAgent struct {
	Logger     *audit.Logger
	Executor   ToolExecutor
	MaxRetries int // bounded retry count for a retryable failure; 0 means defaultMaxRetries
}

const defaultMaxRetries = 3

func (a *ResolutionAgent) Name() string { return "resolution" }

func (a *ResolutionAgent) Process(ctx context.Context, rec *domain.ExceptionRecord, stageCtx Context) (*domain.AgentDecision, error) {
	maxRetries := a.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	if rec.CurrentPlaybookID == nil || rec.CurrentStep == nil {
		decision := &domain.AgentDecision{Decision: "Failed", Confidence: 0, NextStep: "Escalate"}
		auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, fmt.Errorf("resolution: no playbook assigned"))
		return decision, nil
	}

	pb, _ := stageCtx["__playbook"].(*domain.Playbook)
	if pb == nil {
		decision := &domain.AgentDecision{Decision: "Failed", Confidence: 0, NextStep: "Escalate"}
		return decision, fmt.Errorf("resolution: playbook %d not available in stage context", *rec.CurrentPlaybookID)
	}
	step, err := playbook.StepAt(pb, *rec.CurrentStep)
	if err != nil {
		decision := &domain.AgentDecision{Decision: "Failed", Confidence: 0, NextStep: "Escalate"}
		auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, err)
		return decision, err
	}

	var lastErr string
	attempt := 0
	for attempt <= maxRetries {
		result, execErr := a.Executor.Execute(ctx, step.Action, step.Params)
		a.auditToolCall(stageCtx, rec, step, attempt, result, execErr)
		if execErr == nil && result.Success {
			nextStep := *rec.CurrentStep + 1
			rec.CurrentStep = &nextStep
			terminal := nextStep > len(pb.Steps)
			nextStepLabel := "ProceedToFeedback"
			if !terminal {
				nextStepLabel = "ContinueResolution"
			}
			decision := &domain.AgentDecision{Decision: "Executed", Confidence: 1.0, NextStep: nextStepLabel}
			auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, nil)
			return decision, nil
		}
		lastErr = result.Error
		if execErr != nil {
			lastErr = execErr.Error()
		}
		attempt++
		if attempt <= maxRetries {
			decision := &domain.AgentDecision{Decision: "Retrying", Confidence: 0.5, NextStep: "ContinueResolution"}
			auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, nil)
		}
	}

	decision := &domain.AgentDecision{Decision: "Failed", Confidence: 0, NextStep: "Escalate"}
	auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, fmt.Errorf("resolution: exhausted retries: %s", lastErr))
	return decision, nil
}

func (a *ResolutionAgent) auditToolCall(stageCtx Context, rec *domain.ExceptionRecord, step *domain.PlaybookStep, attempt int, result ToolResult, execErr error) {
	if a.Logger == nil {
		return
	}
	data := map[string]any{
		"action":  step.Action,
		"attempt": attempt,
		"success": result.Success,
	}
	if execErr != nil {
		data["error"] = execErr.Error()
	} else if result.Error != "" {
		data["error"] = result.Error
	}
	_ = a.Logger.Write(runIDFrom(stageCtx), rec.TenantID, audit.EventToolCall, data)
}
