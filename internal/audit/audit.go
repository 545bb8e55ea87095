package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"royalty-cloud/internal/auth"
)

// Actions recorded against statements.
const (
	ActionStatementGenerate = "statement.generate"
	ActionStatementFinalize = "statement.finalize"
	ActionStatementVoid     = "statement.void"
	ActionStatementExport   = "statement.export"
	ActionStatementBatch    = "statement.batch"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	TenantID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	ContractID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Reader is implemented by loggers that keep entries for later lookup.
type Reader interface {
	Recent(ctx context.Context, tenantID, resourceID string, limit int) ([]Entry, error)
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromRequest fills caller fields of an entry from the authenticated request.
func FromRequest(r *http.Request, action, resourceType, resourceID, contractID string, metadata any) Entry {
	entry := Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ContractID:   contractID,
	}
	if r == nil {
		return entry
	}
	ctx := r.Context()
	entry.TenantID = auth.TenantIDFromContext(ctx)
	entry.Actor = auth.ActorFromContext(ctx)
	entry.Role = string(auth.RoleFromContext(ctx))
	entry.UserAgent = r.UserAgent()
	entry.IP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		entry.IP = host
	}
	if metadata != nil {
		if data, err := json.Marshal(metadata); err == nil {
			entry.Metadata = data
		}
	}
	return entry
}

// SlogLogger writes audit entries to a structured logger. Used when no audit table exists.
type SlogLogger struct {
	Logger *slog.Logger
}

// Log writes the entry at info level.
func (l SlogLogger) Log(ctx context.Context, entry Entry) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		"action", entry.Action,
		"tenant_id", entry.TenantID,
		"actor", entry.Actor,
		"role", entry.Role,
		"resource_type", entry.ResourceType,
		"resource_id", entry.ResourceID,
		"contract_id", entry.ContractID,
		"payload_digest", DigestJSON(entry.Metadata),
	)
	return nil
}
