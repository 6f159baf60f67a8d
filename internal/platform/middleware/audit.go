package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/platform/auth"
)

const auditPrefix = "/api/v1/census/"

// AuditEntry records one access to census data. Every request under
// /api/v1/census is audited, including failed ones.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Operation  string // roster, trend, episodes
	Source     string // upload, db
	QueryDate  string
	Format     string
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs census data access. When a recorder is given it also receives
// each entry; recorder failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, auditPrefix) {
				return next(c)
			}

			err := next(c)

			entry := newAuditEntry(c, err)
			for _, rec := range recorders {
				if rec == nil {
					continue
				}
				if recErr := rec.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "census_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("operation", entry.Operation).
				Str("source", entry.Source).
				Str("query_date", entry.QueryDate).
				Str("format", entry.Format).
				Str("method", entry.Method).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("census_access")

			return err
		}
	}
}

func newAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	ctx := req.Context()

	status := c.Response().Status
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
	}

	source := "upload"
	if req.Method == http.MethodGet {
		source = "db"
	}

	op := strings.TrimPrefix(req.URL.Path, auditPrefix)
	if i := strings.IndexByte(op, '/'); i >= 0 {
		op = op[:i]
	}

	date := c.QueryParam("date")
	if date == "" {
		date = c.QueryParam("end")
	}

	return AuditEntry{
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID(c),
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Operation:  op,
		Source:     source,
		QueryDate:  date,
		Format:     c.QueryParam("format"),
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		StatusCode: status,
	}
}
