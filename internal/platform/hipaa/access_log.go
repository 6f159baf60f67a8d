package hipaa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/census/internal/platform/middleware"
)

// MinRetentionYears is how long access records are kept at minimum. HIPAA
// requires six years for audit trails.
const MinRetentionYears = 6

// ErrWithinRetention is returned by PurgeBefore for cutoffs inside the
// retention window.
var ErrWithinRetention = fmt.Errorf("access records must be kept for at least %d years", MinRetentionYears)

// recordTimeout bounds a single insert. RecordAccess runs after the response
// has been produced and has no request context of its own.
const recordTimeout = 5 * time.Second

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// AccessRecord is one stored census access.
type AccessRecord struct {
	ID         int64     `json:"id"`
	AccessedAt time.Time `json:"accessed_at"`
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	UserRoles  []string  `json:"user_roles"`
	Operation  string    `json:"operation"`
	Source     string    `json:"source"`
	QueryDate  string    `json:"query_date,omitempty"`
	Format     string    `json:"format,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	StatusCode int       `json:"status_code"`
}

// AccessQuery filters a search of the access log. Zero fields match
// everything.
type AccessQuery struct {
	UserID    string
	Operation string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// AccessLog stores census access audit entries in census_access_log.
type AccessLog struct {
	conn querier
}

func NewAccessLog(pool *pgxpool.Pool) *AccessLog {
	return &AccessLog{conn: pool}
}

func newAccessLog(conn querier) *AccessLog {
	return &AccessLog{conn: conn}
}

const insertAccessSQL = `INSERT INTO census_access_log (
		accessed_at, request_id, user_id, user_roles, operation, source,
		query_date, format, method, path, ip_address, user_agent, status_code
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

// RecordAccess implements middleware.AuditRecorder.
func (l *AccessLog) RecordAccess(e middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	roles := e.UserRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := l.conn.Exec(ctx, insertAccessSQL,
		e.Timestamp, e.RequestID, e.UserID, roles, e.Operation, e.Source,
		e.QueryDate, e.Format, e.Method, e.Path, e.IPAddress, e.UserAgent, e.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("insert census_access_log: %w", err)
	}
	return nil
}

func (q AccessQuery) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.Operation != "" {
		add("operation = $%d", q.Operation)
	}
	if !q.Since.IsZero() {
		add("accessed_at >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("accessed_at < $%d", q.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns matching records, newest first, and the total match count.
func (l *AccessLog) Search(ctx context.Context, q AccessQuery) ([]AccessRecord, int, error) {
	where, args := q.where()

	var total int
	if err := l.conn.QueryRow(ctx, "SELECT COUNT(*) FROM census_access_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count census_access_log: %w", err)
	}

	sql := fmt.Sprintf(`SELECT id, accessed_at, request_id, user_id, user_roles, operation, source,
			COALESCE(query_date, ''), COALESCE(format, ''), method, path,
			COALESCE(ip_address, ''), COALESCE(user_agent, ''), status_code
		FROM census_access_log%s ORDER BY accessed_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := l.conn.Query(ctx, sql, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query census_access_log: %w", err)
	}
	defer rows.Close()

	out := []AccessRecord{}
	for rows.Next() {
		var r AccessRecord
		if err := rows.Scan(&r.ID, &r.AccessedAt, &r.RequestID, &r.UserID, &r.UserRoles, &r.Operation, &r.Source,
			&r.QueryDate, &r.Format, &r.Method, &r.Path, &r.IPAddress, &r.UserAgent, &r.StatusCode); err != nil {
			return nil, 0, fmt.Errorf("scan census_access_log: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate census_access_log: %w", err)
	}
	return out, total, nil
}

// Purge deletes records older than before and returns how many were removed.
func (l *AccessLog) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.conn.Exec(ctx, "DELETE FROM census_access_log WHERE accessed_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("purge census_access_log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeBefore removes records older than cutoff, refusing cutoffs later than
// MinRetentionYears calendar years before now.
func (l *AccessLog) PurgeBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	if cutoff.After(now.AddDate(-MinRetentionYears, 0, 0)) {
		return 0, ErrWithinRetention
	}
	return l.Purge(ctx, cutoff)
}
