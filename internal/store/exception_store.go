package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// PipelineResult is the last recorded orchestrator result for an exception,
// stored alongside its current record (SPEC_FULL.md §4.2).
type PipelineResult struct {
	Status string                    `json:"status"`
	Stages map[string]StageOutcome   `json:"stages"`
	Errors []string                  `json:"errors,omitempty"`
}

// StageOutcome is one stage's recorded outcome within a PipelineResult.
type StageOutcome struct {
	AgentName  string   `json:"agentName"`
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	NextStep   string   `json:"nextStep"`
	Evidence   []string `json:"evidence,omitempty"`
	Skipped    string   `json:"skipped,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ListFilter restricts ExceptionStore.List.
type ListFilter struct {
	ExceptionType *string
	Severity      *domain.Severity
	Status        *domain.ResolutionStatus
	From, To      *time.Time
}

// ExceptionStore maps (tenant_id, exception_id) to an ExceptionRecord plus
// its last pipeline result, per SPEC_FULL.md §4.2.
type ExceptionStore struct {
	pool *pgxpool.Pool
}

// Put overwrites the current state and last pipeline result atomically for
// (tenantID, record.ExceptionID).
func (s *ExceptionStore) Put(ctx context.Context, tenantID string, record *domain.ExceptionRecord, result *PipelineResult) error {
	if record.TenantID != tenantID {
		return apperr.New(apperr.ErrTenantIsolationViolation, "record tenant %q does not match %q", record.TenantID, tenantID)
	}
	rawPayload, err := json.Marshal(record.RawPayload)
	if err != nil {
		return fmt.Errorf("marshaling raw payload: %w", err)
	}
	normalized, err := json.Marshal(record.NormalizedContext)
	if err != nil {
		return fmt.Errorf("marshaling normalized context: %w", err)
	}
	var resultRaw []byte
	if result != nil {
		resultRaw, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling pipeline result: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO exception (
			tenant_id, exception_id, source_system, exception_type, severity,
			resolution_status, raw_payload, normalized_context, current_playbook_id,
			current_step, last_pipeline_result, exception_timestamp, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now(), now())
		ON CONFLICT (tenant_id, exception_id) DO UPDATE SET
			source_system = EXCLUDED.source_system,
			exception_type = EXCLUDED.exception_type,
			severity = EXCLUDED.severity,
			resolution_status = EXCLUDED.resolution_status,
			raw_payload = EXCLUDED.raw_payload,
			normalized_context = EXCLUDED.normalized_context,
			current_playbook_id = EXCLUDED.current_playbook_id,
			current_step = EXCLUDED.current_step,
			last_pipeline_result = EXCLUDED.last_pipeline_result,
			updated_at = now()
	`, tenantID, record.ExceptionID, record.SourceSystem, record.ExceptionType, string(record.Severity),
		string(record.ResolutionStatus), rawPayload, normalized, record.CurrentPlaybookID,
		record.CurrentStep, resultRaw, timeOrNow(record.Timestamp))
	if err != nil {
		return fmt.Errorf("upserting exception: %w", err)
	}
	return nil
}

// Get returns the (tenantID, exceptionID) record and its last pipeline
// result, or apperr.ErrNotFound. Cross-tenant lookups always return
// ErrNotFound, never the other tenant's data (tenant isolation).
func (s *ExceptionStore) Get(ctx context.Context, tenantID, exceptionID string) (*domain.ExceptionRecord, *PipelineResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, exception_id, source_system, exception_type, severity,
			resolution_status, raw_payload, normalized_context, current_playbook_id,
			current_step, last_pipeline_result, exception_timestamp, created_at, updated_at
		FROM exception WHERE tenant_id = $1 AND exception_id = $2
	`, tenantID, exceptionID)

	record, result, err := scanException(row)
	if err != nil {
		return nil, nil, err
	}
	return record, result, nil
}

// List returns a page of the tenant's exceptions matching filter, ordered
// by created time descending.
func (s *ExceptionStore) List(ctx context.Context, tenantID string, filter ListFilter, page, pageSize int) ([]*domain.ExceptionRecord, error) {
	sql := `SELECT tenant_id, exception_id, source_system, exception_type, severity,
			resolution_status, raw_payload, normalized_context, current_playbook_id,
			current_step, last_pipeline_result, exception_timestamp, created_at, updated_at
		FROM exception WHERE tenant_id = $1`
	args := []any{tenantID}
	if filter.ExceptionType != nil {
		args = append(args, *filter.ExceptionType)
		sql += fmt.Sprintf(" AND exception_type = $%d", len(args))
	}
	if filter.Severity != nil {
		args = append(args, string(*filter.Severity))
		sql += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		sql += fmt.Sprintf(" AND resolution_status = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	args = append(args, pageSize, (page-1)*pageSize)
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing exceptions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExceptionRecord
	for rows.Next() {
		record, _, err := scanExceptionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// rowScanner abstracts over pgx.Row and pgx.Rows' shared Scan signature.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanException(row rowScanner) (*domain.ExceptionRecord, *PipelineResult, error) {
	record, result, err := scanExceptionRow(row)
	if err != nil {
		return nil, nil, apperr.New(apperr.ErrNotFound, "exception not found: %v", err)
	}
	return record, result, nil
}

func scanExceptionRow(row rowScanner) (*domain.ExceptionRecord, *PipelineResult, error) {
	var (
		r                       domain.ExceptionRecord
		severity, status        string
		exceptionType           *string
		rawPayload, normalized  []byte
		lastResult              []byte
	)
	if err := row.Scan(&r.TenantID, &r.ExceptionID, &r.SourceSystem, &exceptionType, &severity,
		&status, &rawPayload, &normalized, &r.CurrentPlaybookID, &r.CurrentStep, &lastResult,
		&r.Timestamp, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, nil, err
	}
	r.ExceptionType = exceptionType
	r.Severity = domain.Severity(severity)
	r.ResolutionStatus = domain.ResolutionStatus(status)
	if len(rawPayload) > 0 {
		_ = json.Unmarshal(rawPayload, &r.RawPayload)
	}
	if len(normalized) > 0 {
		_ = json.Unmarshal(normalized, &r.NormalizedContext)
	}
	var result *PipelineResult
	if len(lastResult) > 0 {
		result = &PipelineResult{}
		if err := json.Unmarshal(lastResult, result); err != nil {
			return nil, nil, fmt.Errorf("unmarshaling pipeline result: %w", err)
		}
	}
	return &r, result, nil
}
