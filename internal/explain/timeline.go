package explain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy/internal/store"
)

// stageOrder fixes the estimated-timestamp spacing used when a stage's
// actual wall-clock time isn't separately recorded (spec §4.13: "estimated
// timestamp = base exception timestamp + 2*stage_index seconds").
var stageOrder = []string{"intake", "triage", "policy", "resolution", "feedback"}

var stageToAgentName = map[string]string{
	"intake":     "IntakeAgent",
	"triage":     "TriageAgent",
	"policy":     "PolicyAgent",
	"resolution": "ResolutionAgent",
	"feedback":   "FeedbackAgent",
}

// TimelineEvent is one entry in a DecisionTimeline.
type TimelineEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	StageName   string         `json:"stage_name"`
	AgentName   string         `json:"agent_name"`
	Summary     string         `json:"summary"`
	EvidenceIDs []string       `json:"evidence_ids"`
	Decision    string         `json:"decision,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	NextStep    string         `json:"next_step,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DecisionTimeline is the merged, deduplicated, chronological record of
// what happened to one exception.
type DecisionTimeline struct {
	ExceptionID string          `json:"exception_id"`
	TenantID    string          `json:"tenant_id"`
	Events      []TimelineEvent `json:"events"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BuildTimeline merges synthesized per-stage events from result with actual
// audit-log events mentioning exceptionID, sorts chronologically, and
// deduplicates by (timestamp, stage_name).
func BuildTimeline(exceptionID, tenantID string, baseTimestamp time.Time, result *store.PipelineResult, auditDir string) DecisionTimeline {
	var events []TimelineEvent
	if result != nil {
		events = append(events, synthesizeStageEvents(baseTimestamp, result)...)
	}
	events = append(events, extractAuditEvents(auditDir, exceptionID)...)

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	events = deduplicateEvents(events)

	return DecisionTimeline{ExceptionID: exceptionID, TenantID: tenantID, Events: events, CreatedAt: time.Now().UTC()}
}

func synthesizeStageEvents(baseTimestamp time.Time, result *store.PipelineResult) []TimelineEvent {
	var events []TimelineEvent
	for idx, stageName := range stageOrder {
		outcome, ok := result.Stages[stageName]
		if !ok {
			continue
		}
		agentName := stageToAgentName[stageName]
		if outcome.AgentName != "" {
			agentName = outcome.AgentName
		}
		summary := outcome.Decision
		if summary == "" {
			summary = agentName + " completed " + stageName
		}
		confidence := outcome.Confidence
		events = append(events, TimelineEvent{
			Timestamp:   baseTimestamp.Add(time.Duration(idx*2) * time.Second),
			StageName:   stageName,
			AgentName:   agentName,
			Summary:     summary,
			EvidenceIDs: outcome.Evidence,
			Decision:    outcome.Decision,
			Confidence:  &confidence,
			NextStep:    outcome.NextStep,
			Metadata:    map[string]any{"stage": stageName, "agent": agentName},
		})
	}
	return events
}

// extractAuditEvents scans auditDir's JSONL files for entries whose data
// payload mentions exceptionID, mirroring the original's substring-match
// heuristic (cheaper than structured joins, acceptable for an audit trail
// that is already scoped to one run_id file in practice).
func extractAuditEvents(auditDir, exceptionID string) []TimelineEvent {
	if auditDir == "" {
		return nil
	}
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		return nil
	}

	var events []TimelineEvent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		events = append(events, extractAuditEventsFromFile(filepath.Join(auditDir, entry.Name()), exceptionID)...)
	}
	return events
}

func extractAuditEventsFromFile(path, exceptionID string) []TimelineEvent {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var events []TimelineEvent
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry struct {
			Timestamp time.Time      `json:"timestamp"`
			EventType string         `json:"event_type"`
			Data      map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		dataJSON, _ := json.Marshal(entry.Data)
		if !strings.Contains(string(dataJSON), exceptionID) {
			continue
		}

		agentName, _ := entry.Data["agent"].(string)
		if agentName == "" {
			agentName = "System"
		}
		stageName := strings.ToLower(strings.TrimPrefix(agentName, "agent"))
		summary := entry.EventType + " event"
		switch entry.EventType {
		case "agent_event":
			if decision, ok := entry.Data["decision"].(string); ok && decision != "" {
				summary = decision
			}
		case "tool_call":
			if action, ok := entry.Data["action"].(string); ok {
				summary = "tool " + action + " executed"
			}
		}

		events = append(events, TimelineEvent{
			Timestamp: entry.Timestamp,
			StageName: stageName,
			AgentName: agentName,
			Summary:   summary,
			Metadata:  map[string]any{"event_type": entry.EventType},
		})
	}
	return events
}

func deduplicateEvents(events []TimelineEvent) []TimelineEvent {
	seen := make(map[string]bool, len(events))
	out := make([]TimelineEvent, 0, len(events))
	for _, e := range events {
		key := e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.StageName
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
