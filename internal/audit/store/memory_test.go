package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/auditchain/auditchain/internal/audit/store"
	"github.com/google/uuid"
)

var ctx = context.Background()

func insertRecord(t *testing.T, s *store.MemoryStore, rec *model.Record) {
	t.Helper()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.LockHead(ctx, rec.TenantID); errors.Is(err, store.ErrNotFound) {
		if err := tx.CreateHead(ctx, rec.TenantID); err != nil {
			t.Fatal(err)
		}
		if _, err := tx.LockHead(ctx, rec.TenantID); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.InsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := tx.UpdateHead(ctx, &model.ChainHead{
		TenantID: rec.TenantID, LastSeq: rec.Seq, LastHash: rec.Hash,
		LastRecordID: rec.ID, UpdatedAt: rec.CreatedAt,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func makeRecord(tenantID string, seq int64, submissionID string) *model.Record {
	return &model.Record{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Seq:          seq,
		SubmissionID: submissionID,
		Actor:        "alice",
		Action:       "CREATED",
		ResourceType: "ORDER",
		ResourceID:   "o1",
		CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute),
		Payload:      []byte(`{}`),
		HashAlg:      "hmac-sha256",
		KeyID:        "key1",
		Hash:         uuid.NewString(),
	}
}

func TestMemoryStore_findBySubmission(t *testing.T) {
	s := store.NewMemoryStore()
	rec := makeRecord("t1", 1, "sub-1")
	insertRecord(t, s, rec)

	got, err := s.FindBySubmission(ctx, "t1", "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != rec.ID {
		t.Errorf("got record %s, want %s", got.ID, rec.ID)
	}

	if _, err := s.FindBySubmission(ctx, "t1", "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindBySubmission(ctx, "t2", "sub-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("submission ids are tenant-scoped; got %v", err)
	}
}

func TestMemoryStore_duplicateSubmission(t *testing.T) {
	s := store.NewMemoryStore()
	insertRecord(t, s, makeRecord("t1", 1, "sub-1"))

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.LockHead(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	err = tx.InsertRecord(ctx, makeRecord("t1", 2, "sub-1"))
	if !errors.Is(err, store.ErrDuplicateSubmission) {
		t.Errorf("expected ErrDuplicateSubmission, got %v", err)
	}
}

func TestMemoryStore_rollbackLeavesNoTrace(t *testing.T) {
	s := store.NewMemoryStore()

	tx, _ := s.Begin(ctx)
	if err := tx.CreateHead(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.LockHead(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := tx.InsertRecord(ctx, makeRecord("t1", 1, "sub-1")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FindBySubmission(ctx, "t1", "sub-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled-back record is visible: %v", err)
	}
}

func TestMemoryStore_loadRangeBounds(t *testing.T) {
	s := store.NewMemoryStore()
	for i := int64(1); i <= 5; i++ {
		insertRecord(t, s, makeRecord("t1", i, uuid.NewString()))
	}
	insertRecord(t, s, makeRecord("t2", 1, uuid.NewString()))

	all, err := s.LoadRange(ctx, "t1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
	for i, rec := range all {
		if rec.Seq != int64(i+1) {
			t.Errorf("position %d holds seq %d", i, rec.Seq)
		}
	}

	from, to := int64(2), int64(4)
	bounded, err := s.LoadRange(ctx, "t1", &from, &to)
	if err != nil {
		t.Fatal(err)
	}
	if len(bounded) != 3 || bounded[0].Seq != 2 || bounded[2].Seq != 4 {
		t.Errorf("inclusive bounds broken: %+v", bounded)
	}
}

func TestMemoryStore_searchFilters(t *testing.T) {
	s := store.NewMemoryStore()
	r1 := makeRecord("t1", 1, "s1")
	r1.Actor, r1.Action = "Alice Smith", "CREATED"
	r2 := makeRecord("t1", 2, "s2")
	r2.Actor, r2.Action = "bob", "PAID"
	insertRecord(t, s, r1)
	insertRecord(t, s, r2)

	res, err := s.Search(ctx, model.SearchQuery{TenantID: "t1", Actor: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Records[0].ID != r1.ID {
		t.Errorf("actor substring filter: got total=%d", res.Total)
	}

	res, err = s.Search(ctx, model.SearchQuery{TenantID: "t1", Action: "PAID"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Records[0].ID != r2.ID {
		t.Errorf("action filter: got total=%d", res.Total)
	}

	from := r2.CreatedAt
	res, err = s.Search(ctx, model.SearchQuery{TenantID: "t1", From: &from})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Records[0].ID != r2.ID {
		t.Errorf("from filter: got total=%d", res.Total)
	}

	to := r2.CreatedAt // exclusive upper bound
	res, err = s.Search(ctx, model.SearchQuery{TenantID: "t1", To: &to})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Records[0].ID != r1.ID {
		t.Errorf("to filter should be exclusive: got total=%d", res.Total)
	}
}

func TestMemoryStore_searchPaging(t *testing.T) {
	s := store.NewMemoryStore()
	for i := int64(1); i <= 7; i++ {
		insertRecord(t, s, makeRecord("t1", i, uuid.NewString()))
	}

	page1, err := s.Search(ctx, model.SearchQuery{TenantID: "t1", Page: 1, Size: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page1.Total != 7 || len(page1.Records) != 3 || page1.Records[0].Seq != 4 {
		t.Errorf("page 1: total=%d len=%d first=%d", page1.Total, len(page1.Records), page1.Records[0].Seq)
	}

	page2, err := s.Search(ctx, model.SearchQuery{TenantID: "t1", Page: 2, Size: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Records) != 1 || page2.Records[0].Seq != 7 {
		t.Errorf("page 2: len=%d", len(page2.Records))
	}
}

func TestMemoryStore_countsAndStats(t *testing.T) {
	s := store.NewMemoryStore()
	for i := int64(1); i <= 3; i++ {
		insertRecord(t, s, makeRecord("t1", i, uuid.NewString()))
	}
	insertRecord(t, s, makeRecord("t2", 1, uuid.NewString()))

	n, err := s.CountByTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("CountByTenant(t1) = %d, want 3", n)
	}
	if n, _ := s.CountByTenant(ctx, "nope"); n != 0 {
		t.Errorf("CountByTenant(nope) = %d, want 0", n)
	}

	tenants, records, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tenants != 2 || records != 4 {
		t.Errorf("Stats = (%d, %d), want (2, 4)", tenants, records)
	}
}

func TestMemoryStore_copiesAreIsolated(t *testing.T) {
	s := store.NewMemoryStore()
	rec := makeRecord("t1", 1, "sub-1")
	insertRecord(t, s, rec)

	got, _ := s.GetByID(ctx, rec.ID)
	got.Actor = "mallory"

	again, _ := s.GetByID(ctx, rec.ID)
	if again.Actor != "alice" {
		t.Error("mutating a returned record leaked into the store")
	}
}
