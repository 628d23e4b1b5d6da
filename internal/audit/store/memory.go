package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
//
// Appends for the same tenant serialize on a per-tenant mutex, mirroring
// the per-tenant head row lock of PostgresStore; appends for different
// tenants proceed in parallel. A Tx stages its writes and applies them
// atomically at Commit.
type MemoryStore struct {
	mu      sync.RWMutex
	heads   map[string]*model.ChainHead
	records []*model.Record
	byID    map[uuid.UUID]*model.Record
	bySub   map[string]*model.Record // key: tenantID + "\x00" + submissionID

	locksMu     sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		heads:       make(map[string]*model.ChainHead),
		byID:        make(map[uuid.UUID]*model.Record),
		bySub:       make(map[string]*model.Record),
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

func subKey(tenantID, submissionID string) string {
	return tenantID + "\x00" + submissionID
}

func (s *MemoryStore) tenantLock(tenantID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.tenantLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.tenantLocks[tenantID] = l
	}
	return l
}

// Begin implements Store.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memoryTx{store: s}, nil
}

// FindBySubmission implements Store.
func (s *MemoryStore) FindBySubmission(_ context.Context, tenantID, submissionID string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bySub[subKey(tenantID, submissionID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// LoadRange implements Store.
func (s *MemoryStore) LoadRange(_ context.Context, tenantID string, fromSeq, toSeq *int64) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Record
	for _, rec := range s.records {
		if rec.TenantID != tenantID {
			continue
		}
		if fromSeq != nil && rec.Seq < *fromSeq {
			continue
		}
		if toSeq != nil && rec.Seq > *toSeq {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Search implements Store.
func (s *MemoryStore) Search(_ context.Context, q model.SearchQuery) (*model.SearchResult, error) {
	q.Normalize()

	s.mu.RLock()
	var matched []*model.Record
	for _, rec := range s.records {
		if rec.TenantID != q.TenantID {
			continue
		}
		if q.Actor != "" && !strings.Contains(strings.ToLower(rec.Actor), strings.ToLower(q.Actor)) {
			continue
		}
		if q.Action != "" && rec.Action != q.Action {
			continue
		}
		if q.From != nil && rec.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && !rec.CreatedAt.Before(*q.To) {
			continue
		}
		matched = append(matched, copyRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })

	total := int64(len(matched))
	start := q.Page * q.Size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.Size
	if end > len(matched) {
		end = len(matched)
	}

	return &model.SearchResult{
		Records: matched[start:end],
		Total:   total,
		Page:    q.Page,
		Size:    q.Size,
	}, nil
}

// CountByTenant implements Store.
func (s *MemoryStore) CountByTenant(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.records {
		if rec.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (tenants, records int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.heads)), int64(len(s.records)), nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// TamperRecord mutates a stored record in place, bypassing all chain
// rules. It exists so tests can simulate direct database manipulation.
func (s *MemoryStore) TamperRecord(id uuid.UUID, mutate func(*model.Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	mutate(rec)
	return true
}

// memoryTx stages one append and applies it atomically at Commit.
type memoryTx struct {
	store        *MemoryStore
	lockedTenant string
	lock         *sync.Mutex
	staged       *model.Record
	stagedHead   *model.ChainHead
	done         bool
}

// LockHead implements Tx. It takes the tenant's append mutex, blocking
// concurrent appenders for the same tenant until Commit or Rollback.
func (t *memoryTx) LockHead(_ context.Context, tenantID string) (*model.ChainHead, error) {
	if t.lockedTenant != tenantID {
		l := t.store.tenantLock(tenantID)
		l.Lock()
		t.lock = l
		t.lockedTenant = tenantID
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	head, ok := t.store.heads[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *head
	return &cp, nil
}

// CreateHead implements Tx. Creation is applied immediately (not staged)
// so that a racing appender can observe and lock the new head, matching
// the Postgres ON CONFLICT DO NOTHING behavior.
func (t *memoryTx) CreateHead(_ context.Context, tenantID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.heads[tenantID]; !ok {
		t.store.heads[tenantID] = &model.ChainHead{TenantID: tenantID}
	}
	return nil
}

// InsertRecord implements Tx. Uniqueness is checked against committed
// state here and again at Commit.
func (t *memoryTx) InsertRecord(_ context.Context, rec *model.Record) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, exists := t.store.bySub[subKey(rec.TenantID, rec.SubmissionID)]; exists {
		return ErrDuplicateSubmission
	}
	t.staged = copyRecord(rec)
	return nil
}

// UpdateHead implements Tx.
func (t *memoryTx) UpdateHead(_ context.Context, head *model.ChainHead) error {
	cp := *head
	t.stagedHead = &cp
	return nil
}

// Commit implements Tx.
func (t *memoryTx) Commit(_ context.Context) error {
	defer t.release()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.staged != nil {
		if _, exists := t.store.bySub[subKey(t.staged.TenantID, t.staged.SubmissionID)]; exists {
			return ErrDuplicateSubmission
		}
		t.store.records = append(t.store.records, t.staged)
		t.store.byID[t.staged.ID] = t.staged
		t.store.bySub[subKey(t.staged.TenantID, t.staged.SubmissionID)] = t.staged
	}
	if t.stagedHead != nil {
		t.store.heads[t.stagedHead.TenantID] = t.stagedHead
	}
	return nil
}

// Rollback implements Tx. Safe to call after Commit.
func (t *memoryTx) Rollback(_ context.Context) error {
	t.staged = nil
	t.stagedHead = nil
	t.release()
	return nil
}

func (t *memoryTx) release() {
	if t.done {
		return
	}
	t.done = true
	if t.lock != nil {
		t.lock.Unlock()
		t.lock = nil
	}
}

func copyRecord(rec *model.Record) *model.Record {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp
}
