package agent

import (
	"context"
	"strings"

	"github.com/codeready-toolchain/tarsy/internal/agent/severity"
	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// severityHeuristicTokens maps a substring found in the (uppercased) type
// name to the severity it implies when no severity rule matched.
var severityHeuristicTokens = []struct {
	token    string
	severity domain.Severity
}{
	{"CRITICAL", domain.SeverityCritical},
	{"BREAK", domain.SeverityHigh},
	{"FAIL", domain.SeverityHigh},
	{"MISMATCH", domain.SeverityMedium},
}

// SimilarCase is one hybrid-search hit surfaced as Triage evidence.
type SimilarCase struct {
	ExceptionID string
	Score       float64
	Summary     string
}

// SimilaritySearcher is Triage's optional hybrid-search collaborator.
// Implementations may fail or be entirely absent; Triage degrades
// gracefully either way: it makes one Search call, and a nil searcher or a
// Search error yields no similarity evidence. There is no intermediate
// simpler-search fallback.
type SimilaritySearcher interface {
	Search(ctx context.Context, tenantID, exceptionType string, payload map[string]any) ([]SimilarCase, error)
}

// TriageAgent classifies an exception's type (if not already known) and
// assigns its severity from the effective Domain Pack's severity rules.
type TriageAgent struct {
	Logger    *audit.Logger
	Evidence  evidenceRecorder
	Similarity SimilaritySearcher // optional
}

// evidenceRecorder is the narrow slice of evidence.Tracker Triage needs,
// kept as an interface so tests can substitute a fake without a database.
type evidenceRecorder interface {
	Record(ctx context.Context, item domain.EvidenceItem) (domain.EvidenceItem, error)
}

func (a *TriageAgent) Name() string { return "triage" }

func (a *TriageAgent) Process(ctx context.Context, rec *domain.ExceptionRecord, stageCtx Context) (*domain.AgentDecision, error) {
	pack, _ := stageCtx[CtxDomainPack].(*domain.DomainPack)

	if rec.ExceptionType == nil {
		inferred, ok := inferExceptionType(pack, rec.RawPayload)
		if !ok {
			err := apperr.New(apperr.ErrClassificationFailed, "triage: unable to classify exception %s", rec.ExceptionID)
			decision := &domain.AgentDecision{Decision: "Classification failed", Confidence: 0}
			auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, err)
			return decision, err
		}
		rec.ExceptionType = &inferred
	}

	matchedRules := []string{}
	bestSeverity := domain.Severity("")
	if pack != nil {
		for _, rule := range pack.SeverityRules {
			lookup := severity.AttributeLookup(*rec.ExceptionType, string(rec.Severity), rec.RawPayload)
			if rule.AST != nil && rule.AST.Eval(lookup) {
				matchedRules = append(matchedRules, rule.Condition)
				if bestSeverity == "" || rule.Severity.Rank() > bestSeverity.Rank() {
					bestSeverity = rule.Severity
				}
			}
		}
	}
	if bestSeverity == "" {
		bestSeverity = heuristicSeverity(*rec.ExceptionType)
	}
	rec.Severity = bestSeverity

	evidenceIDs := []string{}
	if a.Evidence != nil {
		item, err := a.Evidence.Record(ctx, domain.EvidenceItem{
			Type:        domain.EvidencePolicy,
			SourceID:    "triage-severity-rules",
			Description: "matched severity rules: " + strings.Join(matchedRules, "; "),
			TenantID:    rec.TenantID,
			ExceptionID: rec.ExceptionID,
			Metadata:    map[string]any{"exception_type": *rec.ExceptionType, "severity": string(bestSeverity)},
		})
		if err == nil {
			evidenceIDs = append(evidenceIDs, item.ID)
		}
	}

	similarCases := a.searchSimilar(ctx, rec)
	for _, sc := range similarCases {
		if a.Evidence == nil {
			break
		}
		item, err := a.Evidence.Record(ctx, domain.EvidenceItem{
			Type:            domain.EvidenceRAG,
			SourceID:        sc.ExceptionID,
			Description:     sc.Summary,
			SimilarityScore: &sc.Score,
			TenantID:        rec.TenantID,
			ExceptionID:     rec.ExceptionID,
		})
		if err == nil {
			evidenceIDs = append(evidenceIDs, item.ID)
		}
	}

	confidence := 0.9
	if len(matchedRules) == 0 {
		confidence = 0.6
	}

	decision := &domain.AgentDecision{
		Decision:   "Classified as " + *rec.ExceptionType + " / " + string(bestSeverity),
		Confidence: confidence,
		Evidence:   evidenceIDs,
		NextStep:   "ProceedToPolicy",
	}
	auditLog(a.Logger, runIDFrom(stageCtx), rec.TenantID, a.Name(), decision, nil)
	return decision, nil
}

// searchSimilar degrades gracefully: a nil searcher, or one that errors,
// simply yields no similar cases.
func (a *TriageAgent) searchSimilar(ctx context.Context, rec *domain.ExceptionRecord) []SimilarCase {
	if a.Similarity == nil || rec.ExceptionType == nil {
		return nil
	}
	cases, err := a.Similarity.Search(ctx, rec.TenantID, *rec.ExceptionType, rec.RawPayload)
	if err != nil {
		return nil
	}
	return cases
}

func inferExceptionType(pack *domain.DomainPack, payload map[string]any) (string, bool) {
	if pack == nil {
		return "", false
	}
	for name, def := range pack.ExceptionTypes {
		for field, want := range def.DetectionRules {
			got, ok := payload[field]
			if !ok {
				continue
			}
			if got == want {
				return name, true
			}
		}
	}
	return "", false
}

func heuristicSeverity(exceptionType string) domain.Severity {
	upper := strings.ToUpper(exceptionType)
	for _, h := range severityHeuristicTokens {
		if strings.Contains(upper, h.token) {
			return h.severity
		}
	}
	return domain.SeverityMedium
}
