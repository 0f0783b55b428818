// Package audit provides the tamper-evident, hash-chained compliance audit
// log. Every entry commits to the digest of its predecessor; appending is the
// only mutation the package exposes, and Verify is the sole detection path
// for out-of-band modification of the backing table.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the well-known prevHash of the first chain entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single immutable audit record. Sequence numbers are strictly
// increasing; the persistence layer runs appends under serializable isolation
// so concurrent appends cannot interleave out of order.
type Entry struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence     int64     `gorm:"uniqueIndex;not null" json:"sequence"`
	Operation    string    `gorm:"type:varchar(100);not null;index" json:"operation"`
	Actor        string    `gorm:"type:varchar(100);not null" json:"actor"`
	ResourceType string    `gorm:"type:varchar(50);not null;index" json:"resource_type"`
	ResourceID   string    `gorm:"type:varchar(64);index" json:"resource_id"`
	Details      string    `gorm:"type:text" json:"details,omitempty"`
	Hash         string    `gorm:"type:varchar(64);not null" json:"hash"`
	PrevHash     string    `gorm:"type:varchar(64);not null" json:"prev_hash"`
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName returns the table name for GORM.
func (Entry) TableName() string { return "audit_entries" }

// canonicalPayload serializes the hashed fields in a fixed order with UTC
// RFC3339Nano timestamps so recomputation is reproducible across
// implementations and locales.
func (e *Entry) canonicalPayload() string {
	return strings.Join([]string{
		strconv.FormatInt(e.Sequence, 10),
		e.Operation,
		e.Actor,
		e.ResourceType,
		e.ResourceID,
		e.Details,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// computeHash returns the hex SHA-256 digest binding an entry's canonical
// payload to its predecessor's digest.
func computeHash(payload, prevHash string) string {
	sum := sha256.Sum256([]byte(payload + "|" + prevHash))
	return hex.EncodeToString(sum[:])
}

// VerificationError pinpoints one broken link in the chain.
type VerificationError struct {
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason"`
}

// VerificationResult is the outcome of an exhaustive chain walk. Errors
// collects every break found; verification never stops at the first one
// because an operator needs the full extent of corruption in one pass.
type VerificationResult struct {
	Valid   bool                `json:"valid"`
	Checked int                 `json:"checked"`
	Errors  []VerificationError `json:"errors,omitempty"`
}
