// Package e2e exercises the full intake -> triage -> policy -> resolution
// -> feedback pipeline against a real Postgres-backed store, grounded on
// the scenario fixtures (domains/tenants YAML) under testdata/scenarios.
package e2e

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/internal/agent"
	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/backpressure"
	"github.com/codeready-toolchain/tarsy/internal/config"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/evidence"
	"github.com/codeready-toolchain/tarsy/internal/metrics"
	"github.com/codeready-toolchain/tarsy/internal/orchestrator"
	"github.com/codeready-toolchain/tarsy/internal/policyresolver"
	"github.com/codeready-toolchain/tarsy/internal/store"
	"github.com/codeready-toolchain/tarsy/internal/toolrpc"
	testdb "github.com/codeready-toolchain/tarsy/test/database"
)

const scenarioConfigDir = "testdata/scenarios"

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *store.Client) {
	t.Helper()

	client := testdb.NewTestClient(t)

	registry := config.NewPackRegistry(scenarioConfigDir)
	require.NoError(t, registry.LoadAll())
	resolver := policyresolver.NewResolver(registry)

	auditLogger, err := audit.NewLogger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(auditLogger.CloseAll)

	evidenceTracker := evidence.NewTracker(client.Evidence)
	metricsCollector := metrics.NewCollector()
	controller := backpressure.NewController(backpressure.DefaultPolicy(), nil)

	intake := &agent.IntakeAgent{Logger: auditLogger}
	triage := &agent.TriageAgent{Logger: auditLogger, Evidence: evidenceTracker}
	policy := &agent.PolicyAgent{Logger: auditLogger, Events: client.Events}
	resolution := &agent.ResolutionAgent{Logger: auditLogger, Executor: &toolrpc.StubExecutor{}}
	feedback := &agent.FeedbackAgent{Logger: auditLogger, Events: client.Events, Metrics: metricsCollector}

	orch := orchestrator.New(intake, triage, policy, resolution, feedback, resolver, client.Exceptions, controller, orchestrator.NewBus(), nil, orchestrator.Config{})
	return orch, client
}

func strPtr(s string) *string { return &s }

// S1 — finance settlement fail with an approved playbook resolves.
func TestScenarioApprovedPlaybookResolves(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	rec := &domain.ExceptionRecord{
		TenantID:      "TENANT_FINANCE_001",
		SourceSystem:  "PaymentGateway",
		ExceptionType: strPtr("SETTLEMENT_FAIL"),
		RawPayload: map[string]any{
			"transactionId": "TXN-12345",
			"amount":        5000.00,
		},
	}

	result, err := orch.Run(context.Background(), rec, "finance", "run-s1")
	require.NoError(t, err)

	require.Contains(t, result.Stages, "intake")
	require.Contains(t, result.Stages, "triage")
	require.Contains(t, result.Stages, "policy")
	require.Contains(t, result.Stages, "resolution")
	require.Contains(t, result.Stages, "feedback")

	require.Equal(t, "Approved", result.Stages["policy"].Decision)
	require.NotNil(t, rec.CurrentPlaybookID)
	require.Equal(t, int64(1), *rec.CurrentPlaybookID)
	require.Equal(t, "RESOLVED", result.Status)
	require.Equal(t, domain.StatusResolved, rec.ResolutionStatus)
}

// S2 — a critical-severity exception requires human approval and stops
// before resolution/feedback run.
func TestScenarioCriticalRequiresApproval(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	rec := &domain.ExceptionRecord{
		TenantID:      "TENANT_FINANCE_002",
		SourceSystem:  "PaymentGateway",
		ExceptionType: strPtr("SETTLEMENT_FAIL"),
		RawPayload: map[string]any{
			"transactionId": "TXN-99999",
			"amount":        75000.00,
		},
	}

	result, err := orch.Run(context.Background(), rec, "finance", "run-s2")
	require.NoError(t, err)

	require.Equal(t, "PENDING_APPROVAL", result.Status)
	require.Equal(t, domain.StatusPendingApproval, rec.ResolutionStatus)
	require.Contains(t, result.Stages, "intake")
	require.Contains(t, result.Stages, "triage")
	require.Contains(t, result.Stages, "policy")
	require.NotContains(t, result.Stages, "resolution")
	require.NotContains(t, result.Stages, "feedback")
}

// S3 — an exception type matching no playbook is non-actionable and
// escalates, but still runs Feedback.
func TestScenarioNonActionableEscalates(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	rec := &domain.ExceptionRecord{
		TenantID:      "TENANT_FINANCE_003",
		SourceSystem:  "PaymentGateway",
		ExceptionType: strPtr("UNKNOWN_TYPE"),
		RawPayload:    map[string]any{"transactionId": "TXN-1"},
	}

	result, err := orch.Run(context.Background(), rec, "finance", "run-s3")
	require.NoError(t, err)

	require.Equal(t, "Blocked - Non-actionable", result.Stages["policy"].Decision)
	require.Equal(t, "Non-actionable exception", result.Stages["resolution"].Skipped)
	require.Contains(t, result.Stages, "feedback")
	require.Equal(t, "ESCALATED", result.Status)
	require.Equal(t, domain.StatusEscalated, rec.ResolutionStatus)
	require.Nil(t, rec.CurrentPlaybookID)
}

// S4 — duplicate event idempotency: a second append of the same event_id
// neither errors nor duplicates via AppendIfNew, and errors with
// apperr.ErrAlreadyExists via the raw Append.
func TestScenarioDuplicateEventIdempotency(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	evt := domain.Event{
		EventID:     "E1",
		ExceptionID: "exc-1",
		TenantID:    "TENANT_FINANCE_001",
		EventType:   "PolicyEvaluated",
		ActorType:   domain.ActorAgent,
	}

	inserted, err := client.Events.AppendIfNew(ctx, "TENANT_FINANCE_001", evt)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = client.Events.AppendIfNew(ctx, "TENANT_FINANCE_001", evt)
	require.NoError(t, err)
	require.False(t, inserted)

	events, err := client.Events.EventsForException(ctx, "TENANT_FINANCE_001", "exc-1", domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	err = client.Events.Append(ctx, "TENANT_FINANCE_001", evt)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrAlreadyExists))
}

// S5 — tenant isolation: an exception created for tenant A is invisible to
// tenant B's Get/List/EventsForException.
func TestScenarioTenantIsolation(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	rec := &domain.ExceptionRecord{
		ExceptionID:  "exc-isolation",
		TenantID:     "TENANT_A",
		SourceSystem: "PaymentGateway",
	}
	require.NoError(t, client.Exceptions.Put(ctx, "TENANT_A", rec, nil))

	_, _, err := client.Exceptions.Get(ctx, "TENANT_B", "exc-isolation")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	listB, err := client.Exceptions.List(ctx, "TENANT_B", store.ListFilter{}, 1, 10)
	require.NoError(t, err)
	require.Empty(t, listB)

	gotA, _, err := client.Exceptions.Get(ctx, "TENANT_A", "exc-isolation")
	require.NoError(t, err)
	require.Equal(t, "exc-isolation", gotA.ExceptionID)

	events, err := client.Events.EventsForException(ctx, "TENANT_B", "exc-isolation", domain.EventFilter{})
	require.NoError(t, err)
	require.Empty(t, events)
}
