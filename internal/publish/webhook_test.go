package publish

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestWebhookPublisher_deliversSignedRecord(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, "hook-secret", zap.NewNop())
	p.synchronous = true

	rec := &model.Record{
		ID:       uuid.New(),
		TenantID: "t1",
		Seq:      1,
		Hash:     "abc",
	}
	p.PublishAppended(context.Background(), rec)

	var decoded model.Record
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("delivery body is not a record: %v", err)
	}
	if decoded.ID != rec.ID || decoded.TenantID != "t1" {
		t.Errorf("unexpected delivery body: %s", gotBody)
	}

	want := Sign(gotBody, "hook-secret")
	if !hmac.Equal([]byte(gotSig), []byte(want)) {
		t.Errorf("signature mismatch: got %q, want %q", gotSig, want)
	}
}

func TestWebhookPublisher_noSignatureWithoutSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, "", zap.NewNop())
	p.synchronous = true
	p.PublishAppended(context.Background(), &model.Record{ID: uuid.New()})

	if gotSig != "" {
		t.Errorf("expected unsigned delivery, got signature %q", gotSig)
	}
}
