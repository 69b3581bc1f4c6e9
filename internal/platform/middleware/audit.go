package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/platform/auth"
)

// AuditEntry records one state-changing API call.
type AuditEntry struct {
	Subject    string
	Roles      []string
	Resource   string
	ResourceID string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

const auditPrefix = "/api/v1/"

// Audit logs every mutating request under /api/v1 after the handler ran, so
// the entry carries the final status. Reads are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutating(req.Method) || !strings.HasPrefix(req.URL.Path, auditPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			sub := auth.SubjectFromContext(req.Context())
			resource, id, action := parseAuditPath(req.URL.Path, req.Method)
			rid, _ := c.Get("request_id").(string)

			entry := AuditEntry{
				Subject:    sub.ID,
				Roles:      sub.Roles,
				Resource:   resource,
				ResourceID: id,
				Action:     action,
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				RequestID:  rid,
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}

			logger.Info().
				Str("subject", entry.Subject).
				Strs("roles", entry.Roles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Str("request_id", entry.RequestID).
				Msg("audit")

			for _, r := range recorders {
				if rerr := r.RecordAccess(req.Context(), entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", rid).Msg("audit recorder failed")
				}
			}
			return err
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// parseAuditPath splits /api/v1/{resource}/{id}/{action...}. Without an
// explicit action segment the HTTP method names the action.
func parseAuditPath(path, method string) (resource, id, action string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, auditPrefix), "/"), "/")
	if len(parts) > 0 {
		resource = parts[0]
	}
	if len(parts) > 1 {
		id = parts[1]
	}
	if len(parts) > 2 {
		return resource, id, strings.Join(parts[2:], "/")
	}
	switch method {
	case http.MethodPost:
		action = "create"
	case http.MethodDelete:
		action = "delete"
	default:
		action = "update"
	}
	return resource, id, action
}
