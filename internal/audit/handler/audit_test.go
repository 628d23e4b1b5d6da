package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/auditchain/auditchain/internal/audit/handler"
	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/auditchain/auditchain/internal/audit/service"
	"github.com/auditchain/auditchain/internal/audit/store"
	"github.com/auditchain/auditchain/internal/chainhash"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T, tokens *handler.TokenIssuer) (*gin.Engine, *service.ChainService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := chainhash.New(chainhash.Config{
		ActiveKeyID: "key1",
		Keys:        map[string]string{"key1": "secret-one"},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := service.NewChainService(store.NewMemoryStore(), hasher, nil, zap.NewNop())

	r := gin.New()
	h := handler.NewAuditHandler(svc, tokens, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, svc
}

func appendBody() string {
	return `{
		"tenant_id": "t1",
		"actor": "alice",
		"action": "CREATED",
		"resource_type": "ORDER",
		"resource_id": "o1",
		"payload": {"amount": 10}
	}`
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAppend_201_thenReplay200(t *testing.T) {
	router, _ := setupRouter(t, nil)

	body := `{
		"tenant_id": "t1",
		"submission_id": "sub-1",
		"actor": "alice",
		"action": "CREATED",
		"resource_type": "ORDER",
		"resource_id": "o1",
		"payload": {"amount": 10}
	}`

	w := doJSON(router, http.MethodPost, "/api/v1/audit/records", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first model.Record
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if first.Seq != 1 || first.Hash == "" {
		t.Errorf("unexpected record: seq=%d hash=%q", first.Seq, first.Hash)
	}

	w = doJSON(router, http.MethodPost, "/api/v1/audit/records", body)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", w.Code)
	}
	var replay model.Record
	json.Unmarshal(w.Body.Bytes(), &replay) //nolint:errcheck
	if replay.ID != first.ID {
		t.Error("replay returned a different record")
	}
}

func TestAppend_400_missingFields(t *testing.T) {
	router, _ := setupRouter(t, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/audit/records", `{"tenant_id":"t1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetRecord_404(t *testing.T) {
	router, _ := setupRouter(t, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/audit/records/00000000-0000-0000-0000-000000000001", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doJSON(router, http.MethodGet, "/api/v1/audit/records/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad uuid, got %d", w.Code)
	}
}

func TestSearch_pagedResults(t *testing.T) {
	router, _ := setupRouter(t, nil)

	for i := 0; i < 3; i++ {
		w := doJSON(router, http.MethodPost, "/api/v1/audit/records", appendBody())
		if w.Code != http.StatusCreated {
			t.Fatal(w.Body.String())
		}
	}

	w := doJSON(router, http.MethodGet, "/api/v1/audit/records?tenant_id=t1&page=0&size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res model.SearchResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || len(res.Records) != 2 {
		t.Errorf("total=%d len=%d", res.Total, len(res.Records))
	}

	w = doJSON(router, http.MethodGet, "/api/v1/audit/records", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant_id, got %d", w.Code)
	}
}

func TestVerify_endpoint(t *testing.T) {
	router, _ := setupRouter(t, nil)

	doJSON(router, http.MethodPost, "/api/v1/audit/records", appendBody())
	doJSON(router, http.MethodPost, "/api/v1/audit/records", appendBody())

	w := doJSON(router, http.MethodGet, "/api/v1/audit/verify?tenant_id=t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res model.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.RecordsChecked != 2 {
		t.Errorf("ok=%v checked=%d", res.OK, res.RecordsChecked)
	}

	w = doJSON(router, http.MethodGet, "/api/v1/audit/verify?tenant_id=t1&from_seq=0", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for from_seq=0, got %d", w.Code)
	}
}

func TestExport_csvAttachment(t *testing.T) {
	router, _ := setupRouter(t, nil)

	doJSON(router, http.MethodPost, "/api/v1/audit/records", appendBody())

	w := doJSON(router, http.MethodGet, "/api/v1/audit/export?tenant_id=t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "audit_export_t1.csv") {
		t.Errorf("content disposition: %s", cd)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected header + 1 row, got %d lines", len(lines))
	}
}

func TestAuth_enforcedWhenConfigured(t *testing.T) {
	tokens := handler.NewTokenIssuer("signing-secret", "http://localhost", 0)
	router, _ := setupRouter(t, tokens)

	// No token.
	w := doJSON(router, http.MethodPost, "/api/v1/audit/records", appendBody())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// Reader token cannot write.
	readToken, err := tokens.Issue("tester", []string{handler.RoleAuditor})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/records", strings.NewReader(appendBody()))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+readToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for reader on write route, got %d", w.Code)
	}

	// Writer token can write.
	writeToken, err := tokens.Issue("tester", []string{handler.RoleWriter})
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/audit/records", strings.NewReader(appendBody()))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+writeToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}
