// Package orchestrator drives one or many Exception Records through the
// fixed intake -> triage -> policy -> resolution -> feedback stage
// sequence (SPEC_FULL.md §4.11), in sequential or bounded-concurrency
// parallel mode, with per-stage timeouts, advisory hooks, informational
// snapshots, and an internal stage_completed pub/sub bus.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/agent"
	"github.com/codeready-toolchain/tarsy/internal/backpressure"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/policyresolver"
	"github.com/codeready-toolchain/tarsy/internal/store"
)

// Stage names, matching the fixed sequence in spec §4.11.
const (
	StageIntake     = "intake"
	StageTriage     = "triage"
	StagePolicy     = "policy"
	StageResolution = "resolution"
	StageFeedback   = "feedback"
)

// Hooks are optional, advisory callbacks. A panicking or otherwise failing
// hook is logged and swallowed — it never aborts the pipeline.
type Hooks struct {
	BeforeStage func(stageName string, stageCtx agent.Context)
	AfterStage  func(stageName string, decision *domain.AgentDecision)
	OnFailure   func(stageName string, err error)
}

func (h Hooks) callBefore(logger *slog.Logger, stageName string, stageCtx agent.Context) {
	if h.BeforeStage == nil {
		return
	}
	defer swallow(logger, "before_stage", stageName)
	h.BeforeStage(stageName, stageCtx)
}

func (h Hooks) callAfter(logger *slog.Logger, stageName string, decision *domain.AgentDecision) {
	if h.AfterStage == nil {
		return
	}
	defer swallow(logger, "after_stage", stageName)
	h.AfterStage(stageName, decision)
}

func (h Hooks) callFailure(logger *slog.Logger, stageName string, err error) {
	if h.OnFailure == nil {
		return
	}
	defer swallow(logger, "on_failure", stageName)
	h.OnFailure(stageName, err)
}

func swallow(logger *slog.Logger, hookName, stageName string) {
	if r := recover(); r != nil {
		logger.Warn("pipeline hook panicked, swallowing", "hook", hookName, "stage", stageName, "panic", r)
	}
}

// Config bundles the orchestrator's tunables.
type Config struct {
	Timeouts       map[string]time.Duration // per-stage; absent = no timeout, a zero entry times out at once
	Hooks          Hooks
	SnapshotDir    string // empty = snapshots disabled
	MaxConcurrency int    // parallel mode fan-out width; <=0 defaults to 8
}

// Orchestrator wires the five stage agents to the supporting substrate.
type Orchestrator struct {
	Intake     agent.Agent
	Triage     agent.Agent
	Policy     agent.Agent
	Resolution agent.Agent
	Feedback   agent.Agent

	Resolver   *policyresolver.Resolver
	Exceptions *store.ExceptionStore
	Controller *backpressure.Controller
	Bus        *Bus
	Logger     *slog.Logger

	cfg Config
}

// New constructs an Orchestrator. logger defaults to slog.Default() if nil.
func New(intake, triage, policy, resolution, feedback agent.Agent, resolver *policyresolver.Resolver, exceptions *store.ExceptionStore, controller *backpressure.Controller, bus *Bus, logger *slog.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Intake: intake, Triage: triage, Policy: policy, Resolution: resolution, Feedback: feedback,
		Resolver: resolver, Exceptions: exceptions, Controller: controller, Bus: bus, Logger: logger, cfg: cfg,
	}
}

// Run drives one exception through the full stage sequence, persisting the
// final state and pipeline result to the Exception Store.
func (o *Orchestrator) Run(ctx context.Context, rec *domain.ExceptionRecord, domainName, runID string) (*store.PipelineResult, error) {
	result := &store.PipelineResult{Status: "RUNNING", Stages: map[string]store.StageOutcome{}}
	stageCtx := agent.Context{agent.CtxRunID: runID}

	eff, err := o.Resolver.Resolve(rec.TenantID, domainName)
	if err != nil {
		result.Status = "FAILED"
		result.Errors = append(result.Errors, err.Error())
		o.persist(ctx, rec, result)
		return result, err
	}
	stageCtx[agent.CtxDomainPack] = eff.Domain
	stageCtx[agent.CtxTenantPolicy] = eff.Tenant

	decision, err := o.runStage(ctx, rec, stageCtx, StageIntake, o.Intake, result)
	if err != nil || decision == nil {
		rec.ResolutionStatus = domain.StatusFailed
		result.Status = "FAILED"
		o.persist(ctx, rec, result)
		return result, nil
	}

	if decision, err = o.runStage(ctx, rec, stageCtx, StageTriage, o.Triage, result); err != nil || decision == nil {
		rec.ResolutionStatus = domain.StatusFailed
		result.Status = "FAILED"
		o.persist(ctx, rec, result)
		return result, nil
	}

	policyDecision, err := o.runStage(ctx, rec, stageCtx, StagePolicy, o.Policy, result)
	if err != nil || policyDecision == nil {
		rec.ResolutionStatus = domain.StatusFailed
		result.Status = "FAILED"
		o.persist(ctx, rec, result)
		return result, nil
	}

	switch {
	case rec.ResolutionStatus == domain.StatusPendingApproval:
		result.Status = "PENDING_APPROVAL"
		o.persist(ctx, rec, result)
		return result, nil

	case policyDecision.Decision == "Blocked - Non-actionable":
		stageCtx["skipped"] = "Non-actionable exception"
		result.Stages[StageResolution] = store.StageOutcome{AgentName: o.Resolution.Name(), Skipped: "Non-actionable exception"}
		rec.ResolutionStatus = domain.StatusEscalated
		result.Status = "ESCALATED"
		o.runFeedback(ctx, rec, stageCtx, result)
		return result, nil

	case policyDecision.NextStep == "Escalate":
		rec.ResolutionStatus = domain.StatusEscalated
		result.Status = "ESCALATED"
		o.runFeedback(ctx, rec, stageCtx, result)
		return result, nil
	}

	o.attachPlaybook(rec, stageCtx, eff)

	var resDecision *domain.AgentDecision
	for {
		resDecision, err = o.runStage(ctx, rec, stageCtx, StageResolution, o.Resolution, result)
		if err != nil || resDecision == nil || resDecision.NextStep != "ContinueResolution" {
			break
		}
	}
	if err != nil {
		rec.ResolutionStatus = domain.StatusFailed
		result.Status = "FAILED"
		o.runFeedback(ctx, rec, stageCtx, result)
		return result, nil
	}
	if resDecision != nil && resDecision.Decision == "Failed" {
		rec.ResolutionStatus = domain.StatusFailed
		result.Status = "FAILED"
	} else {
		rec.ResolutionStatus = domain.StatusResolved
		result.Status = "RESOLVED"
	}

	o.runFeedback(ctx, rec, stageCtx, result)
	return result, nil
}

func (o *Orchestrator) runFeedback(ctx context.Context, rec *domain.ExceptionRecord, stageCtx agent.Context, result *store.PipelineResult) {
	_, _ = o.runStage(ctx, rec, stageCtx, StageFeedback, o.Feedback, result)
	if result.Status == "RUNNING" {
		result.Status = string(rec.ResolutionStatus)
	}
	o.persist(ctx, rec, result)
}

// attachPlaybook resolves rec.CurrentPlaybookID (set by the Policy agent)
// against the effective domain pack's playbooks and stashes the full
// playbook definition in stageCtx for the Resolution agent to execute
// steps from.
func (o *Orchestrator) attachPlaybook(rec *domain.ExceptionRecord, stageCtx agent.Context, eff *policyresolver.Effective) {
	if rec.CurrentPlaybookID == nil || eff.Domain == nil {
		return
	}
	for i := range eff.Domain.Playbooks {
		if eff.Domain.Playbooks[i].ID == *rec.CurrentPlaybookID {
			stageCtx["__playbook"] = &eff.Domain.Playbooks[i]
			return
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, rec *domain.ExceptionRecord, result *store.PipelineResult) {
	if o.Exceptions == nil {
		return
	}
	if err := o.Exceptions.Put(ctx, rec.TenantID, rec, result); err != nil {
		o.Logger.Error("failed to persist exception state", "exception_id", rec.ExceptionID, "error", err)
	}
}

// runStage executes one stage with timeout enforcement, hooks, bus
// publication, and snapshotting.
func (o *Orchestrator) runStage(ctx context.Context, rec *domain.ExceptionRecord, stageCtx agent.Context, stageName string, a agent.Agent, result *store.PipelineResult) (*domain.AgentDecision, error) {
	o.cfg.Hooks.callBefore(o.Logger, stageName, stageCtx)

	stageCtxForRun := ctx
	var cancel context.CancelFunc
	if timeout, ok := o.cfg.Timeouts[stageName]; ok {
		stageCtxForRun, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		decision *domain.AgentDecision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := a.Process(stageCtxForRun, rec, stageCtx)
		done <- outcome{decision: d, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			result.Stages[stageName] = store.StageOutcome{AgentName: a.Name(), Error: out.err.Error()}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stageName, out.err))
			o.cfg.Hooks.callFailure(o.Logger, stageName, out.err)
			o.snapshot(rec, stageCtx, result, stageName)
			return out.decision, out.err
		}
		stageCtx[stageName] = out.decision
		result.Stages[stageName] = outcomeFromDecision(a.Name(), out.decision)
		o.cfg.Hooks.callAfter(o.Logger, stageName, out.decision)
		if o.Bus != nil {
			o.Bus.Publish(StageEvent{TenantID: rec.TenantID, ExceptionID: rec.ExceptionID, Stage: stageName, Decision: out.decision, Timestamp: time.Now().UTC()})
		}
		o.snapshot(rec, stageCtx, result, stageName)
		return out.decision, nil

	case <-stageCtxForRun.Done():
		err := fmt.Errorf("TIMEOUT")
		result.Stages[stageName] = store.StageOutcome{AgentName: a.Name(), Error: "TIMEOUT"}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: TIMEOUT", stageName))
		o.cfg.Hooks.callFailure(o.Logger, stageName, err)
		o.snapshot(rec, stageCtx, result, stageName)
		return nil, err
	}
}

func outcomeFromDecision(agentName string, d *domain.AgentDecision) store.StageOutcome {
	if d == nil {
		return store.StageOutcome{AgentName: agentName}
	}
	return store.StageOutcome{
		AgentName:  agentName,
		Decision:   d.Decision,
		Confidence: d.Confidence,
		NextStep:   d.NextStep,
		Evidence:   d.Evidence,
	}
}

// snapshot writes an informational, possibly-truncated-on-crash JSON
// snapshot after a stage, if SnapshotDir is configured. Snapshots are never
// treated as authoritative state.
func (o *Orchestrator) snapshot(rec *domain.ExceptionRecord, stageCtx agent.Context, result *store.PipelineResult, stageName string) {
	if o.cfg.SnapshotDir == "" {
		return
	}
	payload := map[string]any{
		"exception":       rec,
		"context":         stageCtx,
		"stages_so_far":   result.Stages,
		"timestamp":       time.Now().UTC(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		o.Logger.Warn("failed to marshal snapshot", "error", err)
		return
	}
	path := filepath.Join(o.cfg.SnapshotDir, fmt.Sprintf("%s-%s.json", rec.ExceptionID, stageName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.Logger.Warn("failed to write snapshot", "path", path, "error", err)
	}
}

// RunBatch runs n independent exception state machines with bounded
// concurrency, consulting the Backpressure Controller's in-flight counters
// around each exception's lifetime, and returns results in input order.
func (o *Orchestrator) RunBatch(ctx context.Context, recs []*domain.ExceptionRecord, domainName, runIDPrefix string, maxConcurrency int) []*store.PipelineResult {
	if maxConcurrency <= 0 {
		maxConcurrency = o.cfg.MaxConcurrency
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}

	results := make([]*store.PipelineResult, len(recs))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, rec := range recs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rec *domain.ExceptionRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			if o.Controller != nil {
				o.Controller.IncrementInFlight()
				defer o.Controller.DecrementInFlight()
			}

			runID := fmt.Sprintf("%s-%d", runIDPrefix, i)
			result, _ := o.Run(ctx, rec, domainName, runID)
			results[i] = result
		}(i, rec)
	}
	wg.Wait()
	return results
}
