package middleware

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/caredispatch/internal/platform/db"
)

// PgAuditRecorder appends entries to the tenant's audit_log table through
// the request's tenant connection when there is one.
type PgAuditRecorder struct {
	pool *pgxpool.Pool
}

var _ AuditRecorder = (*PgAuditRecorder)(nil)

func NewPgAuditRecorder(pool *pgxpool.Pool) *PgAuditRecorder {
	return &PgAuditRecorder{pool: pool}
}

func (r *PgAuditRecorder) RecordAccess(ctx context.Context, e AuditEntry) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_log (subject, roles, resource, resource_id, action, method, path,
			ip_address, request_id, status_code, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.Subject, e.Roles, e.Resource, e.ResourceID, e.Action, e.Method, e.Path,
		e.IPAddress, e.RequestID, e.StatusCode, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit_log: %w", err)
	}
	return nil
}
