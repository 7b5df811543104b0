package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opencampus/campus/internal/tracing"
)

// PostgresRepository persists audit records to the audit_log table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert appends one record to the audit trail.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (*Record, error) {
	const q = `
		INSERT INTO audit_log (
			user_id, action, resource, resource_id, ip_address, user_agent,
			method, path, status_code, duration_ms, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationInsert)

	stored := rec
	err := r.db.QueryRowContext(ctx, q,
		nullString(rec.UserID),
		rec.Action,
		nullString(rec.Resource),
		nullString(rec.ResourceID),
		rec.IPAddress,
		nullString(rec.UserAgent),
		rec.Method,
		rec.Path,
		rec.StatusCode,
		rec.DurationMs,
		rec.RequestID,
	).Scan(&stored.ID, &stored.CreatedAt)
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}
	return &stored, nil
}

// QueryByUser retrieves records for a user, newest first.
func (r *PostgresRepository) QueryByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	const q = `
		SELECT id, COALESCE(user_id, ''), action, COALESCE(resource, ''),
		       COALESCE(resource_id, ''), ip_address, COALESCE(user_agent, ''),
		       method, path, status_code, duration_ms, request_id, created_at
		FROM audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	return r.query(ctx, q, userID, queryLimit(limit))
}

// QueryByResource retrieves records for a resource, newest first.
func (r *PostgresRepository) QueryByResource(ctx context.Context, resource, resourceID string, limit int) ([]*Record, error) {
	const q = `
		SELECT id, COALESCE(user_id, ''), action, COALESCE(resource, ''),
		       COALESCE(resource_id, ''), ip_address, COALESCE(user_agent, ''),
		       method, path, status_code, duration_ms, request_id, created_at
		FROM audit_log
		WHERE resource = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	return r.query(ctx, q, resource, resourceID, queryLimit(limit))
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)

	rows, err := r.db.QueryContext(ctx, q, args...)
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var results []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Action, &rec.Resource, &rec.ResourceID,
			&rec.IPAddress, &rec.UserAgent, &rec.Method, &rec.Path,
			&rec.StatusCode, &rec.DurationMs, &rec.RequestID, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		results = append(results, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return results, nil
}

// nullString maps empty strings to NULL for optional columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// queryLimit maps limit <= 0 onto the shared default cap.
func queryLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}
