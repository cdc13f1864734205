package playbook

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

func TestMatchExceptionTypeIsCaseInsensitiveSubstring(t *testing.T) {
	candidates := []domain.Playbook{
		{ID: 1, Name: "retry", Conditions: domain.PlaybookConditions{ExceptionType: "settlement_fail"}},
	}

	pb, err := Match(candidates, Context{ExceptionType: "SETTLEMENT_FAIL_TIMEOUT"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pb.ID)
}

func TestMatchExceptionTypeMismatchIsNotFound(t *testing.T) {
	candidates := []domain.Playbook{
		{ID: 1, Name: "retry", Conditions: domain.PlaybookConditions{ExceptionType: "SETTLEMENT_FAIL"}},
	}

	_, err := Match(candidates, Context{ExceptionType: "UNKNOWN_TYPE"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMatchDomainIsCaseInsensitiveExact(t *testing.T) {
	candidates := []domain.Playbook{
		{ID: 1, Name: "retry", Conditions: domain.PlaybookConditions{Domain: "Finance"}},
	}

	pb, err := Match(candidates, Context{Domain: "FINANCE"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pb.ID)
}

func TestMatchSeverityInMembership(t *testing.T) {
	candidates := []domain.Playbook{
		{ID: 1, Name: "retry", Conditions: domain.PlaybookConditions{SeverityIn: []string{"HIGH", "CRITICAL"}}},
	}

	pb, err := Match(candidates, Context{Severity: domain.SeverityHigh})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pb.ID)

	_, err = Match(candidates, Context{Severity: domain.SeverityLow})
	require.Error(t, err)
}

func TestMatchPolicyTagsRequiresSubset(t *testing.T) {
	candidates := []domain.Playbook{
		{ID: 1, Name: "retry", Conditions: domain.PlaybookConditions{PolicyTags: []string{"pci", "auto-retry"}}},
	}

	_, err := Match(candidates, Context{PolicyTags: []string{"pci"}})
	require.Error(t, err)

	pb, err := Match(candidates, Context{PolicyTags: []string{"pci", "auto-retry", "extra"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pb.ID)
}

func TestMatchSelectsHighestPriorityThenMostRecent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidates := []domain.Playbook{
		{ID: 1, Name: "low-priority", Conditions: domain.PlaybookConditions{ExceptionType: "X", Priority: 1}, CreatedAt: now},
		{ID: 2, Name: "high-priority-older", Conditions: domain.PlaybookConditions{ExceptionType: "X", Priority: 5}, CreatedAt: now.Add(-time.Hour)},
		{ID: 3, Name: "high-priority-newer", Conditions: domain.PlaybookConditions{ExceptionType: "X", Priority: 5}, CreatedAt: now},
	}

	pb, err := Match(candidates, Context{ExceptionType: "X"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), pb.ID)
}

func TestStepAtReturnsOrderedStep(t *testing.T) {
	pb := &domain.Playbook{Name: "retry", Steps: []domain.PlaybookStep{
		{StepOrder: 2, Action: "second"},
		{StepOrder: 1, Action: "first"},
	}}

	step, err := StepAt(pb, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", step.Action)

	_, err = StepAt(pb, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestStepsInOrderSortsByStepOrder(t *testing.T) {
	pb := &domain.Playbook{Steps: []domain.PlaybookStep{
		{StepOrder: 3, Action: "third"},
		{StepOrder: 1, Action: "first"},
		{StepOrder: 2, Action: "second"},
	}}

	ordered := StepsInOrder(pb)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{ordered[0].Action, ordered[1].Action, ordered[2].Action})
}
