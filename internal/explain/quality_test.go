package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreTextIsDeterministic(t *testing.T) {
	text := "Because the triage rule matched on severity, and the policy evidence " +
		"confirms this is a known, approved business process, the playbook was " +
		"executed based on the matched guardrail conditions. Therefore the " +
		"exception was resolved automatically with no human approval required."

	first := ScoreText(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScoreText(text))
	}
}

func TestScoreTextRewardsLengthEvidenceAndReasoning(t *testing.T) {
	short := ScoreText("no info")
	rich := ScoreText("Because the policy evidence and similar past incidents and the matched " +
		"guardrail rule all point to the same root cause, therefore this tool " +
		"execution is justified based on due to the recorded evidence. " +
		"The conclusion follows because every indicator agrees, based on the rule.")

	assert.Greater(t, rich, short)
}

func TestScoreTextPenalizesFillerPhrases(t *testing.T) {
	withFiller := ScoreText("I don't know what happened here, unable to determine the cause.")
	withoutFiller := ScoreText("A clear explanation of what happened here, without any filler phrasing at all.")

	assert.Less(t, withFiller, withoutFiller)
}

func TestScoreTextIsClampedToUnitInterval(t *testing.T) {
	score := ScoreText("")
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreStructuredIsDeterministic(t *testing.T) {
	explanation := map[string]any{
		"timeline": map[string]any{
			"events": []any{"a", "b", "c"},
		},
		"evidence_items": []any{"e1", "e2"},
		"agent_decisions": map[string]any{
			"intake": "Normalized", "triage": "HIGH", "policy": "Approved",
		},
		"evidence_links": []any{"l1"},
		"evidence": map[string]any{
			"by_type":        map[string]any{},
			"links_by_agent": map[string]any{},
		},
	}

	first := ScoreStructured(explanation)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScoreStructured(explanation))
	}
	assert.Equal(t, 1.0, first)
}

func TestScoreStructuredEmptyExplanationScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, ScoreStructured(map[string]any{}))
}

func TestContentHashIsStableAcrossCalls(t *testing.T) {
	explanation := map[string]any{
		"decision": "Approved",
		"severity": "HIGH",
		"steps":    []any{"retry_settlement"},
	}

	first := ContentHash(explanation)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ContentHash(explanation))
	}
}

func TestContentHashIsKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"a": 1, "b": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 1, "b": 2}

	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestContentHashDiffersForDifferentContent(t *testing.T) {
	a := ContentHash(map[string]any{"decision": "Approved"})
	b := ContentHash(map[string]any{"decision": "Escalate"})

	assert.NotEqual(t, a, b)
}

func TestContentHashOfStringHashesRawBytes(t *testing.T) {
	assert.Equal(t, ContentHash("hello"), ContentHash("hello"))
	assert.NotEqual(t, ContentHash("hello"), ContentHash("world"))
}
