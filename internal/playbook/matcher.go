// Package playbook implements the Playbook Matcher (SPEC_FULL.md §4.9):
// filter-then-sort selection of the best-matching Playbook for an
// exception, and ordered step retrieval for the Resolution Agent.
// Grounded on the filter/sort shape of a repository query, as seen in the
// teacher's session/runbook lookup helpers.
package playbook

import (
	"sort"
	"strings"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// Context is the subset of exception/triage state a Playbook is matched
// against.
type Context struct {
	Domain                string
	ExceptionType          string
	Severity               domain.Severity
	SLAMinutesRemaining     *float64
	PolicyTags             []string
}

// Match returns the single best-matching playbook from candidates, or
// apperr.ErrNotFound if none match. Candidates are expected to already be
// the effective (tenant-overlaid) set from policyresolver.
//
// Matching: a playbook matches when every populated PlaybookConditions
// field is satisfied by ctx (Domain is an exact case-insensitive match;
// ExceptionType matches when the condition's type is a case-insensitive
// substring of ctx.ExceptionType;
// Severity matches either the exact Severity field or membership in
// SeverityIn when SeverityIn is non-empty; SLAMinutesRemainingLT matches
// when ctx.SLAMinutesRemaining is non-nil and less than the threshold;
// PolicyTags requires every listed tag be present in ctx.PolicyTags).
// Selection among matches: highest Conditions.Priority first, then most
// recent CreatedAt.
func Match(candidates []domain.Playbook, ctx Context) (*domain.Playbook, error) {
	var matched []domain.Playbook
	for _, pb := range candidates {
		if conditionsMatch(pb.Conditions, ctx) {
			matched = append(matched, pb)
		}
	}
	if len(matched) == 0 {
		return nil, apperr.New(apperr.ErrNotFound, "no playbook matches exception type %q severity %q in domain %q", ctx.ExceptionType, ctx.Severity, ctx.Domain)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Conditions.Priority != matched[j].Conditions.Priority {
			return matched[i].Conditions.Priority > matched[j].Conditions.Priority
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	best := matched[0]
	return &best, nil
}

func conditionsMatch(c domain.PlaybookConditions, ctx Context) bool {
	if c.Domain != "" && !strings.EqualFold(c.Domain, ctx.Domain) {
		return false
	}
	if c.ExceptionType != "" && !strings.Contains(strings.ToLower(ctx.ExceptionType), strings.ToLower(c.ExceptionType)) {
		return false
	}
	if len(c.SeverityIn) > 0 {
		if !severityIn(ctx.Severity, c.SeverityIn) {
			return false
		}
	} else if c.Severity != "" && c.Severity != string(ctx.Severity) {
		return false
	}
	if c.SLAMinutesRemainingLT != nil {
		if ctx.SLAMinutesRemaining == nil || !(*ctx.SLAMinutesRemaining < *c.SLAMinutesRemainingLT) {
			return false
		}
	}
	for _, tag := range c.PolicyTags {
		if !contains(ctx.PolicyTags, tag) {
			return false
		}
	}
	return true
}

func severityIn(sev domain.Severity, list []string) bool {
	for _, s := range list {
		if s == string(sev) {
			return true
		}
	}
	return false
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// StepsInOrder returns pb's steps sorted ascending by StepOrder. Load-time
// validation (internal/config.validateContiguousSteps) already guarantees
// 1-based contiguity, so this is a stable sort, not a re-validation.
func StepsInOrder(pb *domain.Playbook) []domain.PlaybookStep {
	steps := append([]domain.PlaybookStep(nil), pb.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps
}

// FindByID returns the playbook with the given id from candidates, or
// apperr.ErrNotFound.
func FindByID(candidates []domain.Playbook, id int64) (*domain.Playbook, error) {
	for i := range candidates {
		if candidates[i].ID == id {
			return &candidates[i], nil
		}
	}
	return nil, apperr.New(apperr.ErrNotFound, "playbook %d not found", id)
}

// StepAt returns the step with the given 1-based order, or apperr.ErrNotFound.
func StepAt(pb *domain.Playbook, stepOrder int) (*domain.PlaybookStep, error) {
	for i := range pb.Steps {
		if pb.Steps[i].StepOrder == stepOrder {
			return &pb.Steps[i], nil
		}
	}
	return nil, apperr.New(apperr.ErrNotFound, "playbook %q has no step %d", pb.Name, stepOrder)
}
