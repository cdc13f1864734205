// Package evidence implements the Evidence Tracker (SPEC_FULL.md §4.4):
// typed evidence items and their links to agent decisions. Grounded on
// original_source/src/explainability/evidence.py's method signatures;
// persistence is redesigned from one JSONL file per exception onto the
// shared Postgres store (internal/store). An in-memory map of items by id
// is filled on Record and EvidenceFor; no method reads from it, so every
// read queries the store.
package evidence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/store"
)

// Tracker records evidence items and links, constructed once at startup
// and threaded through agent constructors (no module-level singleton, per
// SPEC_FULL.md §9).
type Tracker struct {
	db *store.EvidenceStore

	mu        sync.RWMutex
	itemCache map[string]domain.EvidenceItem // id -> item; written, never read
}

// NewTracker builds a Tracker backed by db.
func NewTracker(db *store.EvidenceStore) *Tracker {
	return &Tracker{db: db, itemCache: make(map[string]domain.EvidenceItem)}
}

// Record persists a new evidence item, assigning an id if absent.
func (t *Tracker) Record(ctx context.Context, item domain.EvidenceItem) (domain.EvidenceItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := t.db.InsertItem(ctx, item); err != nil {
		return domain.EvidenceItem{}, err
	}
	t.mu.Lock()
	t.itemCache[item.ID] = item
	t.mu.Unlock()
	return item, nil
}

// Link persists a new evidence link from evidenceID to a stage decision.
func (t *Tracker) Link(ctx context.Context, exceptionID, agentName, stageName, evidenceID string, influence domain.EvidenceInfluence) (domain.EvidenceLink, error) {
	link := domain.EvidenceLink{
		ID:          uuid.NewString(),
		ExceptionID: exceptionID,
		AgentName:   agentName,
		StageName:   stageName,
		EvidenceID:  evidenceID,
		Influence:   influence,
	}
	if err := t.db.InsertLink(ctx, link); err != nil {
		return domain.EvidenceLink{}, err
	}
	return link, nil
}

// EvidenceFor returns items recorded for exceptionID, optionally scoped to
// tenantID.
func (t *Tracker) EvidenceFor(ctx context.Context, exceptionID string, tenantID string) ([]domain.EvidenceItem, error) {
	items, err := t.db.ItemsForException(ctx, exceptionID, tenantID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	for _, it := range items {
		t.itemCache[it.ID] = it
	}
	t.mu.Unlock()
	return items, nil
}

// LinksFor returns links recorded for exceptionID, optionally restricted to
// a stage name.
func (t *Tracker) LinksFor(ctx context.Context, exceptionID string, stageName *string) ([]domain.EvidenceLink, error) {
	return t.db.LinksForException(ctx, exceptionID, stageName)
}
