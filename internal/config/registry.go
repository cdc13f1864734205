package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// PackRegistry holds loaded domain packs and tenant policy packs, keyed by
// domain name and tenant id respectively. It is thread-safe and reload-
// friendly: LoadAll fully replaces the maps rather than mutating them in
// place, matching the teacher's ChainRegistry / merge.go defensive-copy
// pattern.
type PackRegistry struct {
	mu            sync.RWMutex
	domainPacks   map[string]*domain.DomainPack
	tenantPolicies map[string]*domain.TenantPolicyPack
	configDir     string
}

// NewPackRegistry constructs an empty registry rooted at configDir (expects
// configDir/domains/*.yaml and configDir/tenants/*.yaml).
func NewPackRegistry(configDir string) *PackRegistry {
	return &PackRegistry{
		domainPacks:    make(map[string]*domain.DomainPack),
		tenantPolicies: make(map[string]*domain.TenantPolicyPack),
		configDir:      configDir,
	}
}

// LoadAll (re)loads every domain pack and tenant policy file under
// configDir. It is safe to call repeatedly; each call fully replaces the
// registry contents.
func (r *PackRegistry) LoadAll() error {
	domains := make(map[string]*domain.DomainPack)
	domainDir := filepath.Join(r.configDir, "domains")
	entries, err := os.ReadDir(domainDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pack, err := LoadDomainPack(filepath.Join(domainDir, e.Name()))
			if err != nil {
				return err
			}
			domains[pack.DomainName] = pack
		}
	}

	tenants := make(map[string]*domain.TenantPolicyPack)
	tenantDir := filepath.Join(r.configDir, "tenants")
	entries, err = os.ReadDir(tenantDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pack, err := LoadTenantPolicyPack(filepath.Join(tenantDir, e.Name()))
			if err != nil {
				return err
			}
			tenants[pack.TenantID] = pack
		}
	}

	r.mu.Lock()
	r.domainPacks = domains
	r.tenantPolicies = tenants
	r.mu.Unlock()
	return nil
}

// DomainPack returns the named domain pack, or ErrConfigNotFound.
func (r *PackRegistry) DomainPack(name string) (*domain.DomainPack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.domainPacks[name]
	if !ok {
		return nil, fmt.Errorf("domain pack %q: %w", name, ErrConfigNotFound)
	}
	return p, nil
}

// TenantPolicy returns the named tenant's policy pack, or nil if none is
// configured (a tenant without an overlay is valid; the domain pack alone
// governs).
func (r *PackRegistry) TenantPolicy(tenantID string) *domain.TenantPolicyPack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenantPolicies[tenantID]
}

// EnvConfig is process configuration assembled from the environment,
// matching the ambient env variable set declared in SPEC_FULL.md §6.
type EnvConfig struct {
	DatabaseURL        string
	HTTPPort           string
	ConfigDir          string
	StreamingEnabled   bool
	StreamingBackend   string
	KafkaBootstrap     string
	KafkaTopic         string
	KafkaGroupID       string
	ToolRPCAddr        string
}

// LoadEnvConfig reads EnvConfig from the process environment, applying the
// same defaults as the teacher's cmd/tarsy/main.go flag/env resolution.
func LoadEnvConfig() EnvConfig {
	return EnvConfig{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		HTTPPort:         envOr("HTTP_PORT", "8080"),
		ConfigDir:        envOr("CONFIG_DIR", "./config"),
		StreamingEnabled: envBool("STREAMING_ENABLED", false),
		StreamingBackend: envOr("STREAMING_BACKEND", "stub"),
		KafkaBootstrap:   os.Getenv("KAFKA_BOOTSTRAP_SERVERS"),
		KafkaTopic:       os.Getenv("KAFKA_TOPIC"),
		KafkaGroupID:     os.Getenv("KAFKA_GROUP_ID"),
		ToolRPCAddr:      os.Getenv("TOOLRPC_ADDR"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
