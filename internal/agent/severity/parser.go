// Package severity parses the severity-rule comparator grammar into an AST
// once, at Domain Pack load time, per the REDESIGN FLAGS in SPEC_FULL.md §9:
// the original evaluator re-parsed the condition string on every
// evaluation; this package removes that by building a domain.ConditionNode
// tree that is walked, not re-split, at evaluation time.
//
// Grammar (a small conjunctive/disjunctive comparator grammar, intentionally
// not a general expression language per the Non-goals):
//
//	condition  := ["if:"] orExpr
//	orExpr     := andExpr ("||" andExpr)*
//	andExpr    := cmp ("&&" cmp)*
//	cmp        := attribute op literal
//	attribute  := "exceptionType" | "rawPayload." key | "severity" | ...
//	op         := "==" | "!=" | ">=" | "<=" | ">" | "<"
//	literal    := quoted string | bareword | number
package severity

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// operators in longest-match-first order so ">=" is not mis-split as ">".
var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

// Parse compiles a condition string into a domain.ConditionNode. An empty
// (or whitespace-only) condition parses to domain.EmptyNode{} and never
// errors, matching the spec's boundary behavior.
func Parse(condition string) (domain.ConditionNode, error) {
	s := strings.TrimSpace(condition)
	s = strings.TrimPrefix(s, "if:")
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.EmptyNode{}, nil
	}
	return parseOr(s)
}

func parseOr(s string) (domain.ConditionNode, error) {
	parts := splitTop(s, "||")
	if len(parts) == 1 {
		return parseAnd(parts[0])
	}
	var node domain.ConditionNode
	for _, part := range parts {
		n, err := parseAnd(part)
		if err != nil {
			return nil, err
		}
		if node == nil {
			node = n
		} else {
			node = &domain.OrNode{Left: node, Right: n}
		}
	}
	return node, nil
}

func parseAnd(s string) (domain.ConditionNode, error) {
	parts := splitTop(s, "&&")
	if len(parts) == 1 {
		return parseComparator(parts[0])
	}
	var node domain.ConditionNode
	for _, part := range parts {
		n, err := parseComparator(part)
		if err != nil {
			return nil, err
		}
		if node == nil {
			node = n
		} else {
			node = &domain.AndNode{Left: node, Right: n}
		}
	}
	return node, nil
}

// splitTop splits s on every top-level occurrence of sep (there is no
// parenthesization in this grammar, so "top-level" is just "every
// occurrence"), trimming whitespace from each piece.
func splitTop(s, sep string) []string {
	raw := strings.Split(s, sep)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseComparator(s string) (domain.ConditionNode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.EmptyNode{}, nil
	}
	for _, op := range operators {
		idx := strings.Index(s, op)
		if idx < 0 {
			continue
		}
		attr := strings.TrimSpace(s[:idx])
		lit := strings.TrimSpace(s[idx+len(op):])
		if attr == "" {
			continue
		}
		if lit == "" || strings.ContainsAny(lit[:1], "=!<>") {
			return nil, fmt.Errorf("missing or malformed literal after %q in %q", op, s)
		}
		lit = unquote(lit)
		return &domain.CompareNode{Attribute: attr, Op: op, Literal: lit}, nil
	}
	return nil, fmt.Errorf("no recognized comparator operator in %q", s)
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// AttributeLookup builds a domain.AttributeLookup over an exception type and
// a raw payload map, resolving "exceptionType", "severity", and
// "rawPayload.<dotted.path>" attribute references.
func AttributeLookup(exceptionType, sev string, rawPayload map[string]any) domain.AttributeLookup {
	return func(path string) (string, bool) {
		switch {
		case path == "exceptionType":
			return exceptionType, true
		case path == "severity":
			return sev, true
		case strings.HasPrefix(path, "rawPayload."):
			key := strings.TrimPrefix(path, "rawPayload.")
			return lookupDotted(rawPayload, key)
		default:
			return "", false
		}
	}
}

func lookupDotted(m map[string]any, dotted string) (string, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = m
	for _, part := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		v, ok := asMap[part]
		if !ok {
			return "", false
		}
		cur = v
	}
	return fmt.Sprintf("%v", cur), true
}
