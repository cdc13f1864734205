package explain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

var evidenceIndicators = []string{"evidence", "similar", "rag", "tool", "policy", "rule", "guardrail"}

var fillerPhrases = []string{
	"i don't know",
	"i'm not sure",
	"unable to determine",
	"cannot explain",
	"no information available",
}

var reasoningIndicators = []string{"because", "reason", "based on", "due to", "therefore", "conclusion"}

// ScoreText heuristically scores a TEXT-format explanation, ported from
// original_source/src/explainability/quality.py's string branch.
func ScoreText(text string) float64 {
	var score float64
	lower := strings.ToLower(text)
	length := len(text)

	switch {
	case length >= 200 && length <= 2000:
		score += 0.3
	case length >= 100 && length < 200:
		score += 0.2
	case length > 2000 && length <= 5000:
		score += 0.25
	default:
		score += 0.1
	}

	evidenceCount := countContains(lower, evidenceIndicators)
	switch {
	case evidenceCount >= 3:
		score += 0.3
	case evidenceCount >= 2:
		score += 0.2
	case evidenceCount >= 1:
		score += 0.1
	}

	if containsAny(lower, fillerPhrases) {
		score -= 0.2
	} else {
		score += 0.2
	}

	reasoningCount := countContains(lower, reasoningIndicators)
	switch {
	case reasoningCount >= 2:
		score += 0.2
	case reasoningCount >= 1:
		score += 0.1
	}

	return clamp01(score)
}

// ScoreStructured heuristically scores a JSON/STRUCTURED-format
// explanation, ported from quality.py's dict branch.
func ScoreStructured(explanation map[string]any) float64 {
	var score float64

	if timeline, ok := explanation["timeline"].(map[string]any); ok {
		if events, ok := timeline["events"].([]any); ok {
			score += tieredScore(len(events), 3, 2, 1, 0.3, 0.2, 0.1)
		}
	}

	if items, ok := explanation["evidence_items"].([]any); ok {
		score += tieredScore(len(items), 3, 2, 1, 0.3, 0.2, 0.1)
	}

	if decisions, ok := explanation["agent_decisions"].(map[string]any); ok {
		score += tieredScore(len(decisions), 3, 2, 1, 0.2, 0.15, 0.1)
	}

	if links, ok := explanation["evidence_links"].([]any); ok && len(links) > 0 {
		score += 0.2
	}

	if evidence, ok := explanation["evidence"].(map[string]any); ok {
		if _, ok := evidence["by_type"]; ok {
			score += 0.1
		}
		if _, ok := evidence["links_by_agent"]; ok {
			score += 0.1
		}
	}

	return clamp01(score)
}

func tieredScore(count, highN, midN, lowN int, high, mid, low float64) float64 {
	switch {
	case count >= highN:
		return high
	case count >= midN:
		return mid
	case count >= lowN && count > 0:
		return low
	default:
		return 0
	}
}

func countContains(haystack string, needles []string) int {
	n := 0
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			n++
		}
	}
	return n
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ContentHash computes a stable SHA-256 hex digest over v's canonical JSON
// form, matching generate_explanation_hash's dict branch. encoding/json
// already marshals map[string]any keys in sorted order, so no extra
// normalization is needed for a stable byte sequence. For a string input,
// hash the string's bytes directly, matching the str() branch.
func ContentHash(v any) string {
	var data []byte
	if s, ok := v.(string); ok {
		data = []byte(s)
	} else {
		data, _ = json.Marshal(v)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
