// Package store provides durable storage for audit records and per-tenant
// chain heads.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//
// The stores own durability and lookup only; all chain transition rules
// (sequencing, digest computation, idempotent replay) live in the service
// layer. Appends run inside a Tx so that the record insert and the head
// advance become visible atomically or not at all.
package store

import (
	"context"
	"errors"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record or chain head does not exist.
	ErrNotFound = errors.New("audit record not found")

	// ErrDuplicateSubmission is returned by Tx.InsertRecord when another
	// record already holds the same (tenant_id, submission_id) pair. It is
	// the race-safety net behind the advisory idempotency probe and is
	// recovered by re-reading the winner, never surfaced to callers.
	ErrDuplicateSubmission = errors.New("duplicate submission id")
)

// Store is the read surface plus the transactional append entry point.
type Store interface {
	// Begin opens the transaction that an append runs in.
	Begin(ctx context.Context) (Tx, error)

	// FindBySubmission is the idempotency probe. Returns ErrNotFound when
	// no record exists for the (tenant, submission id) pair.
	FindBySubmission(ctx context.Context, tenantID, submissionID string) (*model.Record, error)

	// GetByID returns a record by its identifier, or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Record, error)

	// LoadRange returns a tenant's records ordered by sequence ascending.
	// Bounds are inclusive and unbounded when nil.
	LoadRange(ctx context.Context, tenantID string, fromSeq, toSeq *int64) ([]*model.Record, error)

	// Search returns one page of a tenant's records matching the filters,
	// ordered by sequence ascending.
	Search(ctx context.Context, q model.SearchQuery) (*model.SearchResult, error)

	// CountByTenant returns the number of records in a tenant's chain.
	CountByTenant(ctx context.Context, tenantID string) (int64, error)

	// Stats returns the number of tenants with a chain and the total
	// record count across all chains.
	Stats(ctx context.Context) (tenants, records int64, err error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Tx is a single append transaction. LockHead serializes appends per
// tenant; everything staged through the Tx becomes visible atomically at
// Commit, and Rollback leaves no trace. Rollback after Commit is a no-op,
// so `defer tx.Rollback(ctx)` is always safe.
type Tx interface {
	// LockHead acquires the tenant's chain head row under an exclusive
	// lock held until Commit or Rollback. Returns ErrNotFound when the
	// tenant has no head yet.
	LockHead(ctx context.Context, tenantID string) (*model.ChainHead, error)

	// CreateHead initializes a head at sequence 0 with no digest. Losing
	// a creation race is not an error; callers re-acquire the lock on the
	// winner's row afterwards.
	CreateHead(ctx context.Context, tenantID string) error

	// InsertRecord persists a new record. Returns ErrDuplicateSubmission
	// when the (tenant_id, submission_id) uniqueness constraint fires.
	InsertRecord(ctx context.Context, rec *model.Record) error

	// UpdateHead advances the chain head. Must be called while the head
	// is locked by this Tx.
	UpdateHead(ctx context.Context, head *model.ChainHead) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
