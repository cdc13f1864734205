// Package config loads domain packs, tenant policy packs, and SLO targets
// from YAML files, and assembles process configuration from the
// environment. It follows the teacher's pattern of typed YAML structs
// loaded into defensively-copied, mutex-guarded registries rather than a
// generic map[string]any configuration tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/tarsy/internal/agent/severity"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// domainPackYAML mirrors the on-disk shape of a domain pack file.
type domainPackYAML struct {
	DomainName     string                          `yaml:"domain_name"`
	ExceptionTypes map[string]exceptionTypeYAML    `yaml:"exception_types"`
	SeverityRules  []severityRuleYAML              `yaml:"severity_rules"`
	Playbooks      []playbookYAML                  `yaml:"playbooks"`
	Guardrails     guardrailsYAML                  `yaml:"guardrails"`
}

type exceptionTypeYAML struct {
	Description    string         `yaml:"description"`
	DetectionRules map[string]any `yaml:"detection_rules"`
}

type severityRuleYAML struct {
	Condition string `yaml:"condition"`
	Severity  string `yaml:"severity"`
}

type playbookStepYAML struct {
	StepOrder int            `yaml:"step_order"`
	Action    string         `yaml:"action"`
	Params    map[string]any `yaml:"params"`
}

type playbookConditionsYAML struct {
	Domain                string   `yaml:"domain"`
	ExceptionType         string   `yaml:"exception_type"`
	Severity              string   `yaml:"severity"`
	SeverityIn            []string `yaml:"severity_in"`
	SLAMinutesRemainingLT *float64 `yaml:"sla_minutes_remaining_lt"`
	PolicyTags            []string `yaml:"policy_tags"`
	Priority              int      `yaml:"priority"`
}

type playbookYAML struct {
	ID         int64                  `yaml:"id"`
	Name       string                 `yaml:"name"`
	Conditions playbookConditionsYAML `yaml:"conditions"`
	Steps      []playbookStepYAML     `yaml:"steps"`
}

type guardrailsYAML struct {
	AllowList              []string `yaml:"allow_lists"`
	BlockList              []string `yaml:"block_lists"`
	HumanApprovalThreshold float64  `yaml:"human_approval_threshold"`
}

// LoadDomainPack reads and parses a domain pack YAML file, compiling every
// severity rule's condition string into an AST exactly once (see
// internal/agent/severity), and validating that every playbook's steps form
// a contiguous 1-based sequence.
func LoadDomainPack(path string) (*domain.DomainPack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	var y domainPackYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	pack := &domain.DomainPack{
		DomainName:     y.DomainName,
		ExceptionTypes: make(map[string]domain.ExceptionTypeDef, len(y.ExceptionTypes)),
		Guardrails: domain.Guardrails{
			AllowList:              y.Guardrails.AllowList,
			BlockList:              y.Guardrails.BlockList,
			HumanApprovalThreshold: y.Guardrails.HumanApprovalThreshold,
		},
		Version: fmt.Sprintf("%d", fileVersion(path)),
	}
	for name, def := range y.ExceptionTypes {
		pack.ExceptionTypes[name] = domain.ExceptionTypeDef{
			Description:    def.Description,
			DetectionRules: def.DetectionRules,
		}
	}
	for _, r := range y.SeverityRules {
		ast, err := severity.Parse(r.Condition)
		if err != nil {
			return nil, NewValidationError("domain_pack", y.DomainName, "severity_rules", err)
		}
		pack.SeverityRules = append(pack.SeverityRules, domain.SeverityRule{
			Condition: r.Condition,
			Severity:  domain.Severity(r.Severity),
			AST:       ast,
		})
	}
	for _, p := range y.Playbooks {
		pb, err := toPlaybook(p)
		if err != nil {
			return nil, NewValidationError("domain_pack", y.DomainName, "playbooks", err)
		}
		pack.Playbooks = append(pack.Playbooks, pb)
	}
	return pack, nil
}

func toPlaybook(p playbookYAML) (domain.Playbook, error) {
	steps := make([]domain.PlaybookStep, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, domain.PlaybookStep{StepOrder: s.StepOrder, Action: s.Action, Params: s.Params})
	}
	if err := validateContiguousSteps(steps); err != nil {
		return domain.Playbook{}, fmt.Errorf("playbook %q: %w", p.Name, err)
	}
	return domain.Playbook{
		ID:   p.ID,
		Name: p.Name,
		Conditions: domain.PlaybookConditions{
			Domain:                p.Conditions.Domain,
			ExceptionType:         p.Conditions.ExceptionType,
			Severity:              p.Conditions.Severity,
			SeverityIn:            p.Conditions.SeverityIn,
			SLAMinutesRemainingLT: p.Conditions.SLAMinutesRemainingLT,
			PolicyTags:            p.Conditions.PolicyTags,
			Priority:              p.Conditions.Priority,
		},
		Steps: steps,
	}, nil
}

// validateContiguousSteps enforces that playbook steps form a contiguous
// 1-based sequence, a static-configuration invariant checked once at load
// time rather than on every match per SPEC_FULL.md §4.9.
func validateContiguousSteps(steps []domain.PlaybookStep) error {
	ordered := make([]int, len(steps))
	for i, s := range steps {
		ordered[i] = s.StepOrder
	}
	for i, want := 0, 1; i < len(ordered); i, want = i+1, want+1 {
		found := false
		for _, o := range ordered {
			if o == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: steps are not a contiguous 1-based sequence", ErrValidationFailed)
		}
	}
	return nil
}

// tenantPolicyYAML mirrors the on-disk shape of a tenant policy pack file.
type tenantPolicyYAML struct {
	TenantID                  string              `yaml:"tenant_id"`
	DomainName                string              `yaml:"domain_name"`
	CustomSeverityOverrides   []severityRuleYAML  `yaml:"custom_severity_overrides"` // reuses {exception_type-as-condition, severity} shape loosely
	CustomPlaybooks           []playbookYAML      `yaml:"custom_playbooks"`
	HumanApprovalRules        []approvalRuleYAML  `yaml:"human_approval_rules"`
	CustomGuardrails          *guardrailsYAML     `yaml:"custom_guardrails"`
	ApprovedBusinessProcesses []string            `yaml:"approved_business_processes"`
}

type approvalRuleYAML struct {
	Severity        string `yaml:"severity"`
	RequireApproval bool   `yaml:"require_approval"`
}

// LoadTenantPolicyPack reads and parses a tenant policy overlay file.
func LoadTenantPolicyPack(path string) (*domain.TenantPolicyPack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	var y tenantPolicyYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	pack := &domain.TenantPolicyPack{
		TenantID:                  y.TenantID,
		DomainName:                y.DomainName,
		CustomSeverityOverrides:   make(map[string]domain.Severity, len(y.CustomSeverityOverrides)),
		ApprovedBusinessProcesses: make(map[string]bool, len(y.ApprovedBusinessProcesses)),
		Version:                   fmt.Sprintf("%d", fileVersion(path)),
	}
	for _, o := range y.CustomSeverityOverrides {
		// condition field doubles as the exception_type key for overrides.
		pack.CustomSeverityOverrides[o.Condition] = domain.Severity(o.Severity)
	}
	for _, p := range y.CustomPlaybooks {
		pb, err := toPlaybook(p)
		if err != nil {
			return nil, NewValidationError("tenant_policy", y.TenantID, "custom_playbooks", err)
		}
		pack.CustomPlaybooks = append(pack.CustomPlaybooks, pb)
	}
	for _, r := range y.HumanApprovalRules {
		pack.HumanApprovalRules = append(pack.HumanApprovalRules, domain.HumanApprovalRule{
			Severity:        domain.Severity(r.Severity),
			RequireApproval: r.RequireApproval,
		})
	}
	if y.CustomGuardrails != nil {
		pack.CustomGuardrails = &domain.Guardrails{
			AllowList:              y.CustomGuardrails.AllowList,
			BlockList:              y.CustomGuardrails.BlockList,
			HumanApprovalThreshold: y.CustomGuardrails.HumanApprovalThreshold,
		}
	}
	for _, id := range y.ApprovedBusinessProcesses {
		pack.ApprovedBusinessProcesses[id] = true
	}
	return pack, nil
}

type sloTargetYAML struct {
	TargetLatencyMs          float64  `yaml:"target_latency_ms"`
	TargetErrorRate          float64  `yaml:"target_error_rate"`
	TargetMTTRMinutes        float64  `yaml:"target_mttr_minutes"`
	TargetAutoResolutionRate float64  `yaml:"target_auto_resolution_rate"`
	TargetThroughput         *float64 `yaml:"target_throughput"`
	WindowMinutes            int      `yaml:"window_minutes"`
}

// LoadSLOTarget reads `{tenant_id}[_{domain}].yaml` from dir.
func LoadSLOTarget(dir, tenantID, domainName string) (*domain.SLOTarget, error) {
	name := tenantID
	if domainName != "" {
		name = tenantID + "_" + domainName
	}
	path := filepath.Join(dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	var y sloTargetYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &domain.SLOTarget{
		TargetLatencyMsP95:       y.TargetLatencyMs,
		TargetErrorRate:          y.TargetErrorRate,
		TargetMTTRMinutes:        y.TargetMTTRMinutes,
		TargetAutoResolutionRate: y.TargetAutoResolutionRate,
		TargetThroughputEPS:      y.TargetThroughput,
		WindowMinutes:            y.WindowMinutes,
	}, nil
}

func fileVersion(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
