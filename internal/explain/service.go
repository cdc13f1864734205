// Package explain implements the Explanation Service and Quality Scoring
// (SPEC_FULL.md §4.13/§4.13a): merges the pipeline result's synthesized
// stage events with actual audit-log events into a DecisionTimeline,
// renders it in JSON/TEXT/STRUCTURED form alongside evidence, and scores
// the result. Grounded on original_source/src/explainability/{timelines,
// quality}.py.
package explain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/store"
)

// Format selects the Explanation Service's rendering.
type Format string

const (
	FormatJSON       Format = "JSON"
	FormatText       Format = "TEXT"
	FormatStructured Format = "STRUCTURED"
)

type exceptionReader interface {
	Get(ctx context.Context, tenantID, exceptionID string) (*domain.ExceptionRecord, *store.PipelineResult, error)
}

type evidenceReader interface {
	EvidenceFor(ctx context.Context, exceptionID, tenantID string) ([]domain.EvidenceItem, error)
	LinksFor(ctx context.Context, exceptionID string, stageName *string) ([]domain.EvidenceLink, error)
}

type metricsRecorder interface {
	RecordExplanationGenerated(tenantID string, latencyMs, quality float64)
}

// Explanation is the full JSON-rendered result.
type Explanation struct {
	ExceptionID     string                  `json:"exception_id"`
	TenantID        string                  `json:"tenant_id"`
	Timeline        DecisionTimeline        `json:"timeline"`
	EvidenceItems   []domain.EvidenceItem   `json:"evidence_items"`
	EvidenceLinks   []domain.EvidenceLink   `json:"evidence_links"`
	AgentDecisions  map[string]any          `json:"agent_decisions"`
	Version         string                  `json:"version"`
	QualityScore    float64                 `json:"quality_score"`
	ContentHash     string                  `json:"content_hash"`
}

// StructuredExplanation is the STRUCTURED-format rendering: evidence
// grouped by type, links grouped by agent.
type StructuredExplanation struct {
	ExceptionID string           `json:"exception_id"`
	TenantID    string           `json:"tenant_id"`
	Timeline    DecisionTimeline `json:"timeline"`
	Evidence    struct {
		ByType map[string][]domain.EvidenceItem `json:"by_type"`
	} `json:"evidence"`
	LinksByAgent map[string][]domain.EvidenceLink `json:"links_by_agent"`
	Version      string                           `json:"version"`
	QualityScore float64                           `json:"quality_score"`
	ContentHash  string                            `json:"content_hash"`
}

const explanationVersion = "1"

// Service builds and renders explanations.
type Service struct {
	Exceptions exceptionReader
	Evidence   evidenceReader
	Metrics    metricsRecorder
	Logger     *audit.Logger
	AuditDir   string
}

// NewService constructs a Service.
func NewService(exceptions exceptionReader, evidence evidenceReader, metricsSrc metricsRecorder, logger *audit.Logger, auditDir string) *Service {
	return &Service{Exceptions: exceptions, Evidence: evidence, Metrics: metricsSrc, Logger: logger, AuditDir: auditDir}
}

// Explain builds and renders an explanation for (tenantID, exceptionID) in
// the requested format. The returned value is a JSON-marshalable payload:
// *Explanation for JSON, string for TEXT, *StructuredExplanation for
// STRUCTURED.
func (s *Service) Explain(ctx context.Context, tenantID, exceptionID string, format Format) (any, error) {
	started := time.Now()

	rec, result, err := s.Exceptions.Get(ctx, tenantID, exceptionID)
	if err != nil {
		return nil, fmt.Errorf("explain: fetching exception %s: %w", exceptionID, err)
	}

	timeline := BuildTimeline(exceptionID, tenantID, rec.Timestamp, result, s.AuditDir)

	var items []domain.EvidenceItem
	var links []domain.EvidenceLink
	if s.Evidence != nil {
		items, _ = s.Evidence.EvidenceFor(ctx, exceptionID, tenantID)
		links, _ = s.Evidence.LinksFor(ctx, exceptionID, nil)
	}

	agentDecisions := map[string]any{}
	if result != nil {
		for stage, outcome := range result.Stages {
			agentDecisions[stage] = outcome
		}
	}

	var rendered any
	var quality float64
	var hash string

	switch format {
	case FormatText:
		text := renderText(rec, timeline, items, agentDecisions)
		quality = ScoreText(text)
		hash = ContentHash(text)
		rendered = text

	case FormatStructured:
		structured := &StructuredExplanation{
			ExceptionID:  exceptionID,
			TenantID:     tenantID,
			Timeline:     timeline,
			LinksByAgent: groupLinksByAgent(links),
			Version:      explanationVersion,
		}
		structured.Evidence.ByType = groupItemsByType(items)
		asMap := structuredAsMap(structured)
		quality = ScoreStructured(asMap)
		hash = ContentHash(asMap)
		structured.QualityScore = quality
		structured.ContentHash = hash
		rendered = structured

	case FormatJSON, "":
		exp := &Explanation{
			ExceptionID:    exceptionID,
			TenantID:       tenantID,
			Timeline:       timeline,
			EvidenceItems:  items,
			EvidenceLinks:  links,
			AgentDecisions: agentDecisions,
			Version:        explanationVersion,
		}
		asMap := jsonAsMap(exp)
		quality = ScoreStructured(asMap)
		hash = ContentHash(asMap)
		exp.QualityScore = quality
		exp.ContentHash = hash
		rendered = exp

	default:
		return nil, apperr.New(apperr.ErrValidationFailed, "explain: unsupported format %q", format)
	}

	latencyMs := float64(time.Since(started).Milliseconds())
	if s.Metrics != nil {
		s.Metrics.RecordExplanationGenerated(tenantID, latencyMs, quality)
	}
	if s.Logger != nil {
		_ = s.Logger.Write(exceptionID, tenantID, audit.EventExplanationGenerated, map[string]any{
			"exception_id":  exceptionID,
			"format":        string(format),
			"quality_score": quality,
			"content_hash":  hash,
		})
	}

	return rendered, nil
}

func groupItemsByType(items []domain.EvidenceItem) map[string][]domain.EvidenceItem {
	out := map[string][]domain.EvidenceItem{}
	for _, item := range items {
		out[string(item.Type)] = append(out[string(item.Type)], item)
	}
	return out
}

func groupLinksByAgent(links []domain.EvidenceLink) map[string][]domain.EvidenceLink {
	out := map[string][]domain.EvidenceLink{}
	for _, link := range links {
		out[link.AgentName] = append(out[link.AgentName], link)
	}
	return out
}

func renderText(rec *domain.ExceptionRecord, timeline DecisionTimeline, items []domain.EvidenceItem, agentDecisions map[string]any) string {
	var b strings.Builder

	exceptionType := "UNKNOWN"
	if rec.ExceptionType != nil {
		exceptionType = *rec.ExceptionType
	}
	fmt.Fprintf(&b, "Exception %s (%s, severity %s)\n\n", rec.ExceptionID, exceptionType, rec.Severity)

	b.WriteString("Decision Timeline:\n")
	for _, e := range timeline.Events {
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", e.Timestamp.Format(time.RFC3339), e.AgentName, e.StageName, e.Summary)
	}
	b.WriteString("\n")

	b.WriteString("Evidence Summary:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", item.Type, item.SourceID, item.Description)
	}
	b.WriteString("\n")

	b.WriteString("Per-Stage Decisions:\n")
	stages := make([]string, 0, len(agentDecisions))
	for stage := range agentDecisions {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(&b, "- %s: %v\n", stage, agentDecisions[stage])
	}

	return b.String()
}

// jsonAsMap/structuredAsMap convert the typed render structs to
// map[string]any for ScoreStructured's dict-shaped heuristics, matching
// the original's duck-typed dict scoring over whichever Python object was
// produced.
func jsonAsMap(exp *Explanation) map[string]any {
	events := make([]any, len(exp.Timeline.Events))
	for i, e := range exp.Timeline.Events {
		events[i] = e
	}
	evidenceItems := make([]any, len(exp.EvidenceItems))
	for i, it := range exp.EvidenceItems {
		evidenceItems[i] = it
	}
	evidenceLinks := make([]any, len(exp.EvidenceLinks))
	for i, l := range exp.EvidenceLinks {
		evidenceLinks[i] = l
	}
	return map[string]any{
		"timeline":        map[string]any{"events": events},
		"evidence_items":  evidenceItems,
		"evidence_links":  evidenceLinks,
		"agent_decisions": exp.AgentDecisions,
	}
}

func structuredAsMap(s *StructuredExplanation) map[string]any {
	byType := map[string]any{}
	for k, v := range s.Evidence.ByType {
		items := make([]any, len(v))
		for i, it := range v {
			items[i] = it
		}
		byType[k] = items
	}
	linksByAgent := map[string]any{}
	for k, v := range s.LinksByAgent {
		links := make([]any, len(v))
		for i, l := range v {
			links[i] = l
		}
		linksByAgent[k] = links
	}
	events := make([]any, len(s.Timeline.Events))
	for i, e := range s.Timeline.Events {
		events[i] = e
	}
	return map[string]any{
		"timeline": map[string]any{"events": events},
		"evidence": map[string]any{"by_type": byType},
		"evidence_links": func() []any {
			var all []any
			for _, v := range linksByAgent {
				all = append(all, v...)
			}
			return all
		}(),
		"links_by_agent": linksByAgent,
	}
}
