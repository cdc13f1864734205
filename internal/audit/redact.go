package audit

import (
	"regexp"
	"strings"
)

// sensitiveKeys are recognized secret-bearing map keys, checked case-
// insensitively. The original's key/regex list (src/tools/security.py) was
// not retrievable from the reference pack (filtered out of
// original_source), so this policy is designed fresh, grounded in the
// teacher's masking package's two-phase (structural, then regex) approach.
var sensitiveKeys = map[string]bool{
	"password":       true,
	"secret":         true,
	"token":          true,
	"api_key":        true,
	"apikey":         true,
	"authorization":  true,
	"access_token":   true,
	"private_key":    true,
	"client_secret":  true,
}

const redactedPlaceholder = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

// Redact walks v (already normalized into plain maps/slices/scalars by
// normalize) and replaces sensitive-key values with a placeholder and
// scrubs recognized secret shapes out of string leaves. It is fail-closed
// in spirit: any value under a sensitive key is always replaced, never
// partially redacted.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if sensitiveKeys[strings.ToLower(k)] {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	case string:
		return redactString(t)
	default:
		return v
	}
}

func redactString(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}
