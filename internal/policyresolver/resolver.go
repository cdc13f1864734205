// Package policyresolver implements the Domain/Policy Resolver
// (SPEC_FULL.md §4.8): given (tenant_id, domain_name?), returns the
// effective Domain Pack and Tenant Policy Pack, with tenant overrides
// taking precedence for severity rules/guardrails and unions applying for
// custom playbooks/severity overrides. Grounded on pkg/config/merge.go's
// builtin-then-overlay merge pattern.
package policyresolver

import (
	"fmt"
	"sync"

	"github.com/codeready-toolchain/tarsy/internal/config"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// Effective is the resolved view a caller consumes: the domain pack with
// tenant overrides folded in, plus the raw tenant policy pack (for access
// to approval rules and approved-process set).
type Effective struct {
	Domain *domain.DomainPack
	Tenant *domain.TenantPolicyPack
}

type cacheKey struct {
	tenantID, domainName, domainVersion, tenantVersion string
}

// Resolver resolves and caches effective packs, invalidating an entry when
// either underlying pack's version changes.
type Resolver struct {
	registry *config.PackRegistry

	mu    sync.RWMutex
	cache map[cacheKey]*Effective
}

// NewResolver builds a Resolver backed by registry.
func NewResolver(registry *config.PackRegistry) *Resolver {
	return &Resolver{registry: registry, cache: make(map[cacheKey]*Effective)}
}

// Resolve returns the effective pack for (tenantID, domainName). If
// domainName is empty, the tenant's configured domain is used.
func (r *Resolver) Resolve(tenantID, domainName string) (*Effective, error) {
	tenantPack := r.registry.TenantPolicy(tenantID)
	if domainName == "" && tenantPack != nil {
		domainName = tenantPack.DomainName
	}
	domainPack, err := r.registry.DomainPack(domainName)
	if err != nil {
		return nil, fmt.Errorf("resolving domain pack %q for tenant %q: %w", domainName, tenantID, err)
	}

	tenantVersion := ""
	if tenantPack != nil {
		tenantVersion = tenantPack.Version
	}
	key := cacheKey{tenantID: tenantID, domainName: domainName, domainVersion: domainPack.Version, tenantVersion: tenantVersion}

	r.mu.RLock()
	if eff, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return eff, nil
	}
	r.mu.RUnlock()

	eff := &Effective{Domain: merge(domainPack, tenantPack), Tenant: tenantPack}

	r.mu.Lock()
	for k := range r.cache {
		if k.tenantID == tenantID && k.domainName == domainName {
			delete(r.cache, k)
		}
	}
	r.cache[key] = eff
	r.mu.Unlock()
	return eff, nil
}

// merge applies tenant-overlay precedence onto domainPack, returning a new
// DomainPack value (never mutates the cached domainPack in place).
func merge(domainPack *domain.DomainPack, tenantPack *domain.TenantPolicyPack) *domain.DomainPack {
	merged := *domainPack
	merged.ExceptionTypes = copyExceptionTypes(domainPack.ExceptionTypes)
	merged.SeverityRules = append([]domain.SeverityRule(nil), domainPack.SeverityRules...)
	merged.Playbooks = append([]domain.Playbook(nil), domainPack.Playbooks...)
	merged.Guardrails = domainPack.Guardrails

	if tenantPack == nil {
		return &merged
	}

	// Tenant policy overrides domain for guardrails entirely, when set.
	if tenantPack.CustomGuardrails != nil {
		merged.Guardrails = *tenantPack.CustomGuardrails
	}

	// Severity overrides: each tenant entry becomes a synthetic
	// exceptionType rule prepended ahead of the domain's rules, unioned with
	// (not replacing) the domain's own rule list, per spec's "unions apply
	// for custom ... severity overrides". Triage keeps the highest-ranked
	// severity among all matching rules, so at Triage a synthetic rule does
	// not win over a matching domain rule of higher severity; the Policy
	// agent then applies the tenant override as the final severity.
	for exceptionType, sev := range tenantPack.CustomSeverityOverrides {
		merged.SeverityRules = append([]domain.SeverityRule{{
			Condition: fmt.Sprintf("exceptionType == %q", exceptionType),
			Severity:  sev,
			AST:       equalsExceptionType(exceptionType),
		}}, merged.SeverityRules...)
	}

	// Custom playbooks union with domain playbooks.
	merged.Playbooks = append(merged.Playbooks, tenantPack.CustomPlaybooks...)

	return &merged
}

func copyExceptionTypes(in map[string]domain.ExceptionTypeDef) map[string]domain.ExceptionTypeDef {
	out := make(map[string]domain.ExceptionTypeDef, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func equalsExceptionType(exceptionType string) domain.ConditionNode {
	return &domain.CompareNode{Attribute: "exceptionType", Op: "==", Literal: exceptionType}
}
