package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/tarsy/internal/apperr"
	"github.com/codeready-toolchain/tarsy/internal/domain"
)

// EventLog is the append-only, idempotent-by-(tenant_id, event_id) event
// store described in SPEC_FULL.md §4.1.
type EventLog struct {
	pool *pgxpool.Pool
}

const uniqueViolation = "23505"

// Append inserts event, failing with apperr.ErrAlreadyExists when
// (tenant_id, event_id) is already present. event.TenantID must equal
// tenantID.
func (l *EventLog) Append(ctx context.Context, tenantID string, event domain.Event) error {
	if event.TenantID != tenantID {
		return apperr.New(apperr.ErrTenantIsolationViolation, "event tenant %q does not match %q", event.TenantID, tenantID)
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO exception_event (tenant_id, event_id, exception_id, event_type, actor_type, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tenantID, event.EventID, event.ExceptionID, event.EventType, string(event.ActorType), event.ActorID, payload, timeOrNow(event.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.New(apperr.ErrAlreadyExists, "event %s already exists for tenant %s", event.EventID, tenantID)
		}
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// AppendIfNew inserts event if not already present, returning true on
// insert and false on duplicate. Never returns an error for the duplicate
// case; this is the replay-safe entry point used throughout the pipeline.
func (l *EventLog) AppendIfNew(ctx context.Context, tenantID string, event domain.Event) (bool, error) {
	err := l.Append(ctx, tenantID, event)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrAlreadyExists) {
		return false, nil
	}
	return false, err
}

// Exists reports whether (tenantID, eventID) has been recorded.
func (l *EventLog) Exists(ctx context.Context, tenantID, eventID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM exception_event WHERE tenant_id = $1 AND event_id = $2)
	`, tenantID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking event existence: %w", err)
	}
	return exists, nil
}

// EventsForException returns events for (tenantID, exceptionID) in
// chronological ascending order, honoring filter.
func (l *EventLog) EventsForException(ctx context.Context, tenantID, exceptionID string, filter domain.EventFilter) ([]domain.Event, error) {
	sql := `SELECT event_id, exception_id, tenant_id, event_type, actor_type, actor_id, payload, created_at
		FROM exception_event WHERE tenant_id = $1 AND exception_id = $2`
	args := []any{tenantID, exceptionID}
	sql, args = applyEventFilter(sql, args, filter)
	sql += " ORDER BY created_at ASC"

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events for exception: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsForTenant returns all of a tenant's events, newest first, optionally
// bounded by [from, to].
func (l *EventLog) EventsForTenant(ctx context.Context, tenantID string, from, to *time.Time) ([]domain.Event, error) {
	sql := `SELECT event_id, exception_id, tenant_id, event_type, actor_type, actor_id, payload, created_at
		FROM exception_event WHERE tenant_id = $1`
	args := []any{tenantID}
	if from != nil {
		args = append(args, *from)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	sql += " ORDER BY created_at DESC"

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events for tenant: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func applyEventFilter(sql string, args []any, filter domain.EventFilter) (string, []any) {
	if len(filter.EventTypes) > 0 {
		args = append(args, filter.EventTypes)
		sql += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	if filter.ActorType != nil {
		args = append(args, string(*filter.ActorType))
		sql += fmt.Sprintf(" AND actor_type = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	return sql, args
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var (
			e          domain.Event
			actorType  string
			actorID    *string
			payloadRaw []byte
		)
		if err := rows.Scan(&e.EventID, &e.ExceptionID, &e.TenantID, &e.EventType, &actorType, &actorID, &payloadRaw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.ActorType = domain.ActorType(actorType)
		e.ActorID = actorID
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
