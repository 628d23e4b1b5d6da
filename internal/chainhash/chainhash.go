// Package chainhash computes the keyed digests that link audit records
// into a per-tenant tamper-evident chain.
//
// Digests are HMAC-SHA256 over the canonical JSON encoding of a record's
// immutable fields plus the previous record's digest. The HMAC secrets
// live outside the database: an attacker with database access alone
// cannot recompute valid digests after rewriting history.
//
// Multiple keys may be configured concurrently for rotation. New records
// are signed with the active key; verification always uses the key id
// stored on each record.
package chainhash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/auditchain/auditchain/internal/canonical"
)

// Algorithm is the digest algorithm label stored with each record.
const Algorithm = "hmac-sha256"

var (
	// ErrUnknownKey is returned when a key id has no configured secret.
	ErrUnknownKey = errors.New("unknown hmac key id")
	// ErrEmptyKey is returned when a configured secret is blank.
	ErrEmptyKey = errors.New("empty hmac secret")
)

// Config is the externally supplied key material. Secrets are never
// persisted alongside records.
type Config struct {
	ActiveKeyID string
	Keys        map[string]string
}

// Fields is the tuple of record attributes bound by the digest.
// The database-assigned record id is deliberately excluded: it is not
// known until after insert, and the digest must be computable before.
type Fields struct {
	TenantID      string
	SubmissionID  string
	Actor         string
	Action        string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	CreatedAt     time.Time
	PrevHash      string
	PayloadJSON   string
}

// FieldsFromRecord extracts the digest tuple from a stored record.
func FieldsFromRecord(r *model.Record) Fields {
	return Fields{
		TenantID:      r.TenantID,
		SubmissionID:  r.SubmissionID,
		Actor:         r.Actor,
		Action:        r.Action,
		ResourceType:  r.ResourceType,
		ResourceID:    r.ResourceID,
		CorrelationID: r.CorrelationID,
		CreatedAt:     r.CreatedAt,
		PrevHash:      r.PrevHash,
		PayloadJSON:   string(r.Payload),
	}
}

// Hasher computes and recomputes record digests using an injected keyring.
type Hasher struct {
	active string
	keys   map[string]string
}

// New creates a Hasher, validating that the active key exists and is non-blank.
func New(cfg Config) (*Hasher, error) {
	if cfg.ActiveKeyID == "" {
		return nil, fmt.Errorf("active key id not configured: %w", ErrUnknownKey)
	}
	keys := make(map[string]string, len(cfg.Keys))
	for id, secret := range cfg.Keys {
		keys[id] = secret
	}
	h := &Hasher{active: cfg.ActiveKeyID, keys: keys}
	if _, err := h.secret(cfg.ActiveKeyID); err != nil {
		return nil, fmt.Errorf("active key %q: %w", cfg.ActiveKeyID, err)
	}
	return h, nil
}

// ActiveKeyID returns the key id used to sign new records.
func (h *Hasher) ActiveKeyID() string {
	return h.active
}

// Digest computes the hex-encoded HMAC-SHA256 digest of the field tuple
// under the secret bound to keyID.
func (h *Hasher) Digest(keyID string, f Fields) (string, error) {
	secret, err := h.secret(keyID)
	if err != nil {
		return "", err
	}

	msg, err := canonical.Marshal(map[string]any{
		"tenant_id":      f.TenantID,
		"submission_id":  f.SubmissionID,
		"actor":          f.Actor,
		"action":         f.Action,
		"resource_type":  f.ResourceType,
		"resource_id":    f.ResourceID,
		"correlation_id": f.CorrelationID,
		"created_at":     f.CreatedAt.UTC().Format(time.RFC3339Nano),
		"prev_hash":      f.PrevHash,
		"payload":        f.PayloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize digest fields: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Recompute re-derives a stored record's digest using the record's own
// key id, not the currently active one.
func (h *Hasher) Recompute(r *model.Record) (string, error) {
	return h.Digest(r.KeyID, FieldsFromRecord(r))
}

func (h *Hasher) secret(keyID string) (string, error) {
	secret, ok := h.keys[keyID]
	if !ok {
		return "", fmt.Errorf("key id %q: %w", keyID, ErrUnknownKey)
	}
	if secret == "" {
		return "", fmt.Errorf("key id %q: %w", keyID, ErrEmptyKey)
	}
	return secret, nil
}
