package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is a single entry in a tenant's tamper-evident audit chain.
// Records are immutable once written; the chain invariant is
// Record[n].PrevHash == Record[n-1].Hash for n > 1, and PrevHash == ""
// for the first record of a tenant.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Seq           int64           `json:"seq"`
	SubmissionID  string          `json:"submission_id"`
	Actor         string          `json:"actor"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
	HashAlg       string          `json:"hash_alg"`
	KeyID         string          `json:"key_id"`
	PrevHash      string          `json:"prev_hash,omitempty"`
	Hash          string          `json:"hash"`
}

// ChainHead is the per-tenant pointer to the tip of the chain. It is the
// single row locked to serialize appends for one tenant; appends for
// different tenants never contend on it.
type ChainHead struct {
	TenantID     string    `json:"tenant_id"`
	LastSeq      int64     `json:"last_seq"`
	LastHash     string    `json:"last_hash,omitempty"` // empty while the chain is empty
	LastRecordID uuid.UUID `json:"last_record_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppendRequest carries the caller-supplied fields of a new record.
// SubmissionID is the idempotency key; when empty the service generates one.
type AppendRequest struct {
	TenantID      string         `json:"tenant_id" binding:"required"`
	SubmissionID  string         `json:"submission_id"`
	Actor         string         `json:"actor" binding:"required"`
	Action        string         `json:"action" binding:"required"`
	ResourceType  string         `json:"resource_type" binding:"required"`
	ResourceID    string         `json:"resource_id" binding:"required"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// AppendResult distinguishes a freshly created record from an idempotent
// replay of an earlier submission.
type AppendResult struct {
	Record  *Record
	Created bool
}

// VerificationResult reports the outcome of a chain verification walk.
// A broken chain is an expected, reportable finding, not an error.
type VerificationResult struct {
	OK              bool       `json:"ok"`
	RecordsChecked  int        `json:"records_checked"`
	FirstMismatchID *uuid.UUID `json:"first_mismatch_id,omitempty"`
	Message         string     `json:"message"`
}

// VerificationOK builds a passing result.
func VerificationOK(recordsChecked int) *VerificationResult {
	return &VerificationResult{OK: true, RecordsChecked: recordsChecked, Message: "OK"}
}

// VerificationMismatch builds a failing result pointing at the first bad record.
func VerificationMismatch(id uuid.UUID, message string) *VerificationResult {
	return &VerificationResult{OK: false, FirstMismatchID: &id, Message: message}
}

// SearchQuery holds the optional filters and paging for record search.
// Actor matches as a case-insensitive substring, Action matches exactly,
// and the timestamp range is [From, To).
type SearchQuery struct {
	TenantID string
	Actor    string
	Action   string
	From     *time.Time
	To       *time.Time
	Page     int
	Size     int
}

// Normalize clamps paging to sane bounds.
func (q *SearchQuery) Normalize() {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.Size < 1 {
		q.Size = 50
	}
	if q.Size > 500 {
		q.Size = 500
	}
}

// SearchResult is one page of records, ordered by sequence ascending.
type SearchResult struct {
	Records []*Record `json:"records"`
	Total   int64     `json:"total"`
	Page    int       `json:"page"`
	Size    int       `json:"size"`
}
