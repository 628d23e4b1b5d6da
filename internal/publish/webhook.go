package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 signature of the delivery body,
// so consumers can authenticate deliveries without trusting transport alone.
const SignatureHeader = "X-Audit-Signature"

// WebhookPublisher POSTs each appended record as JSON to a configured URL.
// Deliveries run detached from the append request with bounded retries;
// a record that cannot be delivered is logged and dropped.
type WebhookPublisher struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *zap.Logger

	// synchronous forces in-line delivery. Tests only.
	synchronous bool
}

// NewWebhookPublisher creates a WebhookPublisher. secret may be empty to
// send unsigned deliveries.
func NewWebhookPublisher(url, secret string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// PublishAppended implements Publisher. Delivery is fire-and-forget: the
// caller's context is not used, since the append has already committed by
// the time publication starts.
func (p *WebhookPublisher) PublishAppended(_ context.Context, rec *model.Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error("webhook: marshal record", zap.Error(err))
		return
	}
	if p.synchronous {
		p.deliver(body, rec)
		return
	}
	go p.deliver(body, rec)
}

// deliver attempts the POST with bounded retries: immediate, 1s, 5s.
func (p *WebhookPublisher) deliver(body []byte, rec *model.Record) {
	delays := []time.Duration{0, time.Second, 5 * time.Second}

	for attempt, delay := range delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		if p.post(body) {
			return
		}
		p.logger.Warn("webhook: delivery failed",
			zap.String("url", p.url),
			zap.Int("attempt", attempt+1),
			zap.String("tenant_id", rec.TenantID),
			zap.Int64("seq", rec.Seq),
		)
	}
}

func (p *WebhookPublisher) post(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, p.secret))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Sign computes the delivery signature for a body and secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
