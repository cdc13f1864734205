package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// EvidenceStore is the Postgres-backed persistence layer behind
// internal/evidence.Tracker. The original implementation used one JSONL
// file per (tenant_id, exception_id); this is redesigned onto the same
// Postgres store as the rest of the pipeline (see DESIGN.md).
type EvidenceStore struct {
	pool *pgxpool.Pool
}

// InsertItem persists an evidence item.
func (s *EvidenceStore) InsertItem(ctx context.Context, item domain.EvidenceItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling evidence metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO evidence_item (id, tenant_id, exception_id, evidence_type, source_id, description, similarity_score, payload_ref, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.TenantID, item.ExceptionID, string(item.Type), item.SourceID, item.Description, item.SimilarityScore, item.PayloadRef, metadata)
	if err != nil {
		return fmt.Errorf("inserting evidence item: %w", err)
	}
	return nil
}

// InsertLink persists an evidence link.
func (s *EvidenceStore) InsertLink(ctx context.Context, link domain.EvidenceLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evidence_link (id, exception_id, agent_name, stage_name, evidence_id, influence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (id) DO NOTHING
	`, link.ID, link.ExceptionID, link.AgentName, link.StageName, link.EvidenceID, string(link.Influence))
	if err != nil {
		return fmt.Errorf("inserting evidence link: %w", err)
	}
	return nil
}

// ItemsForException returns evidence items recorded for exceptionID, scoped
// to tenantID when tenantID is non-empty.
func (s *EvidenceStore) ItemsForException(ctx context.Context, exceptionID, tenantID string) ([]domain.EvidenceItem, error) {
	sql := `SELECT id, tenant_id, exception_id, evidence_type, source_id, description, similarity_score, payload_ref, metadata, created_at
		FROM evidence_item WHERE exception_id = $1`
	args := []any{exceptionID}
	if tenantID != "" {
		args = append(args, tenantID)
		sql += " AND tenant_id = $2"
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying evidence items: %w", err)
	}
	defer rows.Close()

	var out []domain.EvidenceItem
	for rows.Next() {
		var it domain.EvidenceItem
		var evType string
		var metadataRaw []byte
		if err := rows.Scan(&it.ID, &it.TenantID, &it.ExceptionID, &evType, &it.SourceID, &it.Description,
			&it.SimilarityScore, &it.PayloadRef, &metadataRaw, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning evidence item: %w", err)
		}
		it.Type = domain.EvidenceType(evType)
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &it.Metadata)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// LinksForException returns evidence links for exceptionID, optionally
// restricted to a stage name.
func (s *EvidenceStore) LinksForException(ctx context.Context, exceptionID string, stageName *string) ([]domain.EvidenceLink, error) {
	sql := `SELECT id, exception_id, agent_name, stage_name, evidence_id, influence, created_at FROM evidence_link WHERE exception_id = $1`
	args := []any{exceptionID}
	if stageName != nil {
		args = append(args, *stageName)
		sql += " AND stage_name = $2"
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying evidence links: %w", err)
	}
	defer rows.Close()

	var out []domain.EvidenceLink
	for rows.Next() {
		var l domain.EvidenceLink
		var influence string
		if err := rows.Scan(&l.ID, &l.ExceptionID, &l.AgentName, &l.StageName, &l.EvidenceID, &influence, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning evidence link: %w", err)
		}
		l.Influence = domain.EvidenceInfluence(influence)
		out = append(out, l)
	}
	return out, rows.Err()
}
