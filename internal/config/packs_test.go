package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/internal/domain"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDomainPackAcceptsContiguousSteps(t *testing.T) {
	path := writeYAML(t, `
domain_name: finance
playbooks:
  - id: 1
    name: retry-settlement
    conditions:
      exception_type: SETTLEMENT_FAIL
    steps:
      - step_order: 1
        action: first
      - step_order: 2
        action: second
      - step_order: 3
        action: third
`)

	pack, err := LoadDomainPack(path)
	require.NoError(t, err)
	require.Len(t, pack.Playbooks, 1)
	assert.Len(t, pack.Playbooks[0].Steps, 3)
}

func TestLoadDomainPackRejectsGapInStepOrder(t *testing.T) {
	path := writeYAML(t, `
domain_name: finance
playbooks:
  - id: 1
    name: retry-settlement
    conditions:
      exception_type: SETTLEMENT_FAIL
    steps:
      - step_order: 1
        action: first
      - step_order: 3
        action: third
`)

	_, err := LoadDomainPack(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestLoadDomainPackRejectsNonOneBasedSteps(t *testing.T) {
	path := writeYAML(t, `
domain_name: finance
playbooks:
  - id: 1
    name: retry-settlement
    conditions:
      exception_type: SETTLEMENT_FAIL
    steps:
      - step_order: 2
        action: second
      - step_order: 3
        action: third
`)

	_, err := LoadDomainPack(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidateContiguousStepsAcceptsOutOfOrderInput(t *testing.T) {
	steps := []domain.PlaybookStep{
		{StepOrder: 2, Action: "second"},
		{StepOrder: 1, Action: "first"},
	}
	assert.NoError(t, validateContiguousSteps(steps))
}

func TestLoadDomainPackCompilesSeverityRuleConditions(t *testing.T) {
	path := writeYAML(t, `
domain_name: finance
severity_rules:
  - condition: "exceptionType == 'SETTLEMENT_FAIL'"
    severity: HIGH
`)

	pack, err := LoadDomainPack(path)
	require.NoError(t, err)
	require.Len(t, pack.SeverityRules, 1)
	assert.NotNil(t, pack.SeverityRules[0].AST)
	assert.Equal(t, domain.SeverityHigh, pack.SeverityRules[0].Severity)
}

func TestLoadDomainPackRejectsInvalidSeverityRuleCondition(t *testing.T) {
	path := writeYAML(t, `
domain_name: finance
severity_rules:
  - condition: "exceptionType ==="
    severity: HIGH
`)

	_, err := LoadDomainPack(path)
	require.Error(t, err)
}

func TestLoadDomainPackMissingFileReturnsLoadError(t *testing.T) {
	_, err := LoadDomainPack(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
}
