// Package client provides the Go SDK for the auditchain HTTP API:
// appending records, searching, verifying chain integrity, and exporting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server reports a missing record.
var ErrNotFound = errors.New("audit record not found")

// Record mirrors the server's audit record representation.
type Record struct {
	ID            string          `json:"id"`
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

// AppendRequest is the payload for AppendRecord.
type AppendRequest struct {
	TenantID      string         `json:"tenant_id"`
	SubmissionID  string         `json:"submission_id,omitempty"`
	Actor         string         `json:"actor"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// SearchOptions are the optional filters and paging for SearchRecords.
type SearchOptions struct {
	Actor  string
	Action string
	From   *time.Time
	To     *time.Time
	Page   int
	Size   int
}

// SearchResult is one page of records.
type SearchResult struct {
	Records []*Record `json:"records"`
	Total   int64     `json:"total"`
	Page    int       `json:"page"`
	Size    int       `json:"size"`
}

// VerificationResult reports a chain verification outcome.
type VerificationResult struct {
	OK              bool   `json:"ok"`
	RecordsChecked  int    `json:"records_checked"`
	FirstMismatchID string `json:"first_mismatch_id,omitempty"`
	Message         string `json:"message"`
}

// Client is the auditchain SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a role token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the given server base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppendRecord appends an audit record. created reports whether the
// server created a new record (true) or replayed an earlier submission
// with the same submission id (false).
func (c *Client) AppendRecord(ctx context.Context, req AppendRequest) (rec *Record, created bool, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/audit/records", nil, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, false, apiError(resp)
	}
	rec = &Record{}
	if err := json.NewDecoder(resp.Body).Decode(rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, resp.StatusCode == http.StatusCreated, nil
}

// GetRecord loads a record by id. Returns ErrNotFound for a missing record.
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/audit/records/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	rec := &Record{}
	if err := json.NewDecoder(resp.Body).Decode(rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// SearchRecords returns one page of a tenant's records.
func (c *Client) SearchRecords(ctx context.Context, tenantID string, opts SearchOptions) (*SearchResult, error) {
	q := url.Values{"tenant_id": {tenantID}}
	if opts.Actor != "" {
		q.Set("actor", opts.Actor)
	}
	if opts.Action != "" {
		q.Set("action", opts.Action)
	}
	if opts.From != nil {
		q.Set("from", opts.From.Format(time.RFC3339))
	}
	if opts.To != nil {
		q.Set("to", opts.To.Format(time.RFC3339))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Size > 0 {
		q.Set("size", strconv.Itoa(opts.Size))
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/audit/records", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	res := &SearchResult{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	return res, nil
}

// Verify runs chain verification for a tenant with optional inclusive
// sequence bounds (0 = unbounded).
func (c *Client) Verify(ctx context.Context, tenantID string, fromSeq, toSeq int64) (*VerificationResult, error) {
	q := url.Values{"tenant_id": {tenantID}}
	if fromSeq > 0 {
		q.Set("from_seq", strconv.FormatInt(fromSeq, 10))
	}
	if toSeq > 0 {
		q.Set("to_seq", strconv.FormatInt(toSeq, 10))
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/audit/verify", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	res := &VerificationResult{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, fmt.Errorf("decode verification result: %w", err)
	}
	return res, nil
}

// ExportCSV streams a tenant's CSV export into w.
func (c *Client) ExportCSV(ctx context.Context, w io.Writer, tenantID string, fromSeq, toSeq int64) error {
	q := url.Values{"tenant_id": {tenantID}}
	if fromSeq > 0 {
		q.Set("from_seq", strconv.FormatInt(fromSeq, 10))
	}
	if toSeq > 0 {
		q.Set("to_seq", strconv.FormatInt(toSeq, 10))
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/audit/export", q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream export: %w", err)
	}
	return nil
}

// Token exchanges the admin secret for a role token.
func (c *Client) Token(ctx context.Context, adminSecret, subject string, roles []string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"admin_secret": adminSecret,
		"subject":      subject,
		"roles":        roles,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", nil, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// apiError decodes the server's {"error": "..."} envelope.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
