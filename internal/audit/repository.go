package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Placeholder selects the bind-parameter style of the target database.
type Placeholder int

const (
	// Dollar binds $1, $2, ... (Postgres).
	Dollar Placeholder = iota
	// Question binds ? (SQLite).
	Question
)

// Repository stores audit entries in the audit_logs table.
type Repository struct {
	db    *sql.DB
	style Placeholder
}

// NewRepository constructs an audit repository for a Postgres database.
func NewRepository(db *sql.DB) *Repository {
	return NewRepositoryWith(db, Dollar)
}

// NewRepositoryWith constructs an audit repository using the given bind style.
func NewRepositoryWith(db *sql.DB, style Placeholder) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, style: style}
}

var errNilDB = errors.New("audit repo: nil db")

// Log writes an audit entry, filling in the id, timestamp and digest when unset.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = string(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, r.bind(`
INSERT INTO audit_logs (id, tenant_id, actor, role, action, resource_type, resource_id, contract_id,
	metadata, payload_digest, ip, user_agent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		nullable(entry.ContractID), metadata, entry.PayloadDigest, nullable(entry.IP), nullable(entry.UserAgent),
		r.timeArg(entry.CreatedAt))
	return err
}

// Recent returns the newest entries for a resource, newest first.
func (r *Repository) Recent(ctx context.Context, tenantID, resourceID string, limit int) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.bind(`
SELECT id, tenant_id, actor, role, action, resource_type, resource_id,
	COALESCE(contract_id, ''), COALESCE(CAST(metadata AS TEXT), ''), COALESCE(payload_digest, ''),
	COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
FROM audit_logs
WHERE tenant_id = ? AND resource_id = ?
ORDER BY created_at DESC
LIMIT ?`), tenantID, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			metadata string
			created  any
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &e.Role, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.ContractID, &metadata, &e.PayloadDigest, &e.IP, &e.UserAgent, &created); err != nil {
			return nil, err
		}
		if metadata != "" {
			e.Metadata = []byte(metadata)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) bind(query string) string {
	if r.style == Question {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *Repository) timeArg(t time.Time) any {
	if r.style == Question {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	}
	return time.Time{}, fmt.Errorf("audit repo: unexpected created_at %T", v)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
