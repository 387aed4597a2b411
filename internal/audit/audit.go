package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"alarm-engine/internal/auth"
)

// Entry records an operator or configuration action.
type Entry struct {
	ID            string
	TenantID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	EntityID      string
	Metadata      json.RawMessage
	PayloadDigest string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// FromContext fills actor, role and tenant from the request identity.
func FromContext(ctx context.Context, entry Entry) Entry {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return entry
	}
	if id.TenantID != "" {
		entry.TenantID = id.TenantID
	}
	entry.Actor = id.Subject
	entry.Role = string(id.Role)
	return entry
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
