// Package service implements the chain-append and chain-verification
// protocols over the audit store. It exclusively owns the chain
// transition rules; the stores own durability and lookup only.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/auditchain/auditchain/internal/audit/store"
	"github.com/auditchain/auditchain/internal/canonical"
	"github.com/auditchain/auditchain/internal/chainhash"
	"github.com/auditchain/auditchain/internal/publish"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChainService coordinates appends and verification for per-tenant
// tamper-evident chains.
type ChainService struct {
	store     store.Store
	hasher    *chainhash.Hasher
	publisher publish.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewChainService creates the service. publisher may be nil to disable
// post-append publication.
func NewChainService(st store.Store, hasher *chainhash.Hasher, publisher publish.Publisher, logger *zap.Logger) *ChainService {
	return &ChainService{
		store:     st,
		hasher:    hasher,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the append timestamp source. Intended for tests.
func (s *ChainService) SetClock(now func() time.Time) {
	s.now = now
}

// Append adds a record to the tenant's chain.
//
// The call is idempotent under retry: re-submitting an already-used
// submission id returns the original record with Created=false and does
// not advance the chain. All sequence and digest computation for a tenant
// happens while holding that tenant's chain head lock; appends for
// different tenants proceed fully in parallel.
func (s *ChainService) Append(ctx context.Context, req model.AppendRequest) (*model.AppendResult, error) {
	submissionID := req.SubmissionID
	if submissionID == "" {
		submissionID = uuid.NewString()
	}

	// Advisory idempotency probe: a fast path that avoids taking the head
	// lock for retried submissions. The insert-time uniqueness constraint
	// remains the authoritative guarantee.
	existing, err := s.store.FindBySubmission(ctx, req.TenantID, submissionID)
	if err == nil {
		return &model.AppendResult{Record: existing, Created: false}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("idempotency probe: %w", err)
	}

	payloadJSON, err := canonical.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	head, err := s.lockOrCreateHead(ctx, tx, req.TenantID)
	if err != nil {
		return nil, err
	}

	// Truncate to microseconds so the timestamp hashes identically before
	// and after a Postgres timestamptz round trip.
	now := s.now().UTC().Truncate(time.Microsecond)

	rec := &model.Record{
		ID:            uuid.New(),
		TenantID:      req.TenantID,
		Seq:           head.LastSeq + 1,
		SubmissionID:  submissionID,
		Actor:         req.Actor,
		Action:        req.Action,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		CorrelationID: req.CorrelationID,
		CreatedAt:     now,
		Payload:       payloadJSON,
		HashAlg:       chainhash.Algorithm,
		KeyID:         s.hasher.ActiveKeyID(),
		PrevHash:      head.LastHash,
	}

	rec.Hash, err = s.hasher.Digest(rec.KeyID, chainhash.FieldsFromRecord(rec))
	if err != nil {
		return nil, fmt.Errorf("compute digest: %w", err)
	}

	if err := tx.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateSubmission) {
			// A concurrent duplicate raced past the probe. Drop our
			// transaction and return the winner's record.
			_ = tx.Rollback(ctx)
			winner, findErr := s.store.FindBySubmission(ctx, req.TenantID, submissionID)
			if findErr != nil {
				return nil, fmt.Errorf("reread after duplicate submission: %w", findErr)
			}
			return &model.AppendResult{Record: winner, Created: false}, nil
		}
		return nil, err
	}

	head.LastSeq = rec.Seq
	head.LastHash = rec.Hash
	head.LastRecordID = rec.ID
	head.UpdatedAt = now
	if err := tx.UpdateHead(ctx, head); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, store.ErrDuplicateSubmission) {
			winner, findErr := s.store.FindBySubmission(ctx, req.TenantID, submissionID)
			if findErr != nil {
				return nil, fmt.Errorf("reread after duplicate submission: %w", findErr)
			}
			return &model.AppendResult{Record: winner, Created: false}, nil
		}
		return nil, fmt.Errorf("commit append: %w", err)
	}

	s.logger.Debug("audit record appended",
		zap.String("tenant_id", rec.TenantID),
		zap.Int64("seq", rec.Seq),
		zap.String("record_id", rec.ID.String()),
	)

	// Best-effort side channel, outside the transaction. Publication
	// failure never rolls back the append.
	if s.publisher != nil {
		s.publisher.PublishAppended(ctx, rec)
	}

	return &model.AppendResult{Record: rec, Created: true}, nil
}

// lockOrCreateHead acquires the tenant's head under lock, lazily creating
// it on the tenant's first append. A lost creation race falls through to
// locking the winner's row.
func (s *ChainService) lockOrCreateHead(ctx context.Context, tx store.Tx, tenantID string) (*model.ChainHead, error) {
	head, err := tx.LockHead(ctx, tenantID)
	if err == nil {
		return head, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := tx.CreateHead(ctx, tenantID); err != nil {
		return nil, err
	}
	head, err = tx.LockHead(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("initialize chain head for tenant %q: %w", tenantID, err)
	}
	return head, nil
}

// GetByID returns a single record, or store.ErrNotFound.
func (s *ChainService) GetByID(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	return s.store.GetByID(ctx, id)
}

// Search returns one page of a tenant's records matching the filters.
func (s *ChainService) Search(ctx context.Context, q model.SearchQuery) (*model.SearchResult, error) {
	return s.store.Search(ctx, q)
}

// LoadRange returns a tenant's records in sequence order with optional
// inclusive bounds.
func (s *ChainService) LoadRange(ctx context.Context, tenantID string, fromSeq, toSeq *int64) ([]*model.Record, error) {
	return s.store.LoadRange(ctx, tenantID, fromSeq, toSeq)
}

// Verify walks the tenant's records in sequence order, recomputing every
// digest and checking the previous-digest linkage. It stops at the first
// failure and reports the failing record; a broken chain is returned as a
// finding, not an error. Verification is read-only and takes no locks:
// records are immutable once written, so it may run concurrently with
// appends.
//
// The genesis check (first record must carry no previous digest) applies
// only when the requested window provably includes the tenant's first
// record, i.e. when fromSeq is absent or <= 1. A window starting mid-chain
// cannot validate the linkage of its first record and treats it as the
// trust anchor for the rest of the walk.
func (s *ChainService) Verify(ctx context.Context, tenantID string, fromSeq, toSeq *int64) (*model.VerificationResult, error) {
	records, err := s.store.LoadRange(ctx, tenantID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("load records for verification: %w", err)
	}

	genesisInWindow := fromSeq == nil || *fromSeq <= 1

	var (
		expectedPrev string
		prevSeq      int64
		seen         bool
	)
	for i, rec := range records {
		if !seen {
			if genesisInWindow && rec.PrevHash != "" {
				return mismatch(i, rec.ID, "genesis record has non-empty prev_hash"), nil
			}
		} else if rec.PrevHash != expectedPrev {
			return mismatch(i, rec.ID,
				fmt.Sprintf("prev_hash mismatch: expected digest of seq=%d", prevSeq)), nil
		}

		recomputed, err := s.hasher.Recompute(rec)
		if err != nil {
			// Missing or empty key material is a configuration fault,
			// not a chain finding.
			return nil, fmt.Errorf("recompute digest for record %s: %w", rec.ID, err)
		}
		if recomputed != rec.Hash {
			return mismatch(i, rec.ID, "hash mismatch: recomputed digest differs from stored hash"), nil
		}

		expectedPrev = rec.Hash
		prevSeq = rec.Seq
		seen = true
	}

	return model.VerificationOK(len(records)), nil
}

// mismatch builds a failing result, counting the records that passed
// before the failing one.
func mismatch(passed int, id uuid.UUID, message string) *model.VerificationResult {
	res := model.VerificationMismatch(id, message)
	res.RecordsChecked = passed
	return res
}
