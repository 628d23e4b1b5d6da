package chainhash_test

import (
	"errors"
	"testing"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/auditchain/auditchain/internal/chainhash"
)

func testConfig() chainhash.Config {
	return chainhash.Config{
		ActiveKeyID: "key1",
		Keys: map[string]string{
			"key1": "secret-one",
			"key2": "secret-two",
			"bad":  "",
		},
	}
}

func testFields() chainhash.Fields {
	return chainhash.Fields{
		TenantID:     "t1",
		SubmissionID: "sub-1",
		Actor:        "alice",
		Action:       "CREATED",
		ResourceType: "ORDER",
		ResourceID:   "o1",
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PrevHash:     "",
		PayloadJSON:  `{"amount":10}`,
	}
}

func TestNew_validatesActiveKey(t *testing.T) {
	if _, err := chainhash.New(chainhash.Config{ActiveKeyID: "missing", Keys: map[string]string{}}); !errors.Is(err, chainhash.ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
	if _, err := chainhash.New(chainhash.Config{ActiveKeyID: "bad", Keys: map[string]string{"bad": ""}}); !errors.Is(err, chainhash.ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
	if _, err := chainhash.New(chainhash.Config{Keys: map[string]string{"key1": "s"}}); err == nil {
		t.Error("expected error for blank active key id")
	}
}

func TestDigest_deterministic(t *testing.T) {
	h, err := chainhash.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	d1, err := h.Digest("key1", testFields())
	if err != nil {
		t.Fatal(err)
	}
	d2, err := h.Digest("key1", testFields())
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Errorf("digest not deterministic: %s vs %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(d1))
	}
}

func TestDigest_sensitiveToFieldsAndKey(t *testing.T) {
	h, _ := chainhash.New(testConfig())

	base, _ := h.Digest("key1", testFields())

	f := testFields()
	f.PrevHash = "deadbeef"
	changed, _ := h.Digest("key1", f)
	if changed == base {
		t.Error("digest did not change with prev hash")
	}

	otherKey, _ := h.Digest("key2", testFields())
	if otherKey == base {
		t.Error("digest did not change with signing key")
	}
}

func TestDigest_keyErrors(t *testing.T) {
	h, _ := chainhash.New(testConfig())

	if _, err := h.Digest("nope", testFields()); !errors.Is(err, chainhash.ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
	if _, err := h.Digest("bad", testFields()); !errors.Is(err, chainhash.ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
}

func TestRecompute_usesRecordKeyID(t *testing.T) {
	h, _ := chainhash.New(testConfig())

	f := testFields()
	rec := &model.Record{
		TenantID:     f.TenantID,
		SubmissionID: f.SubmissionID,
		Actor:        f.Actor,
		Action:       f.Action,
		ResourceType: f.ResourceType,
		ResourceID:   f.ResourceID,
		CreatedAt:    f.CreatedAt,
		Payload:      []byte(f.PayloadJSON),
		KeyID:        "key2", // historical record signed with a rotated-out key
	}

	want, err := h.Digest("key2", f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Recompute(rec)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Recompute: got %s, want %s", got, want)
	}
}
