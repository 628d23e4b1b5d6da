// Package publish delivers appended audit records to external consumers.
// Publication is a best-effort side channel: failures are logged and
// swallowed, never propagated into the append path.
package publish

import (
	"context"

	"github.com/auditchain/auditchain/internal/audit/model"
	"go.uber.org/zap"
)

// Publisher receives each record after its append transaction commits.
type Publisher interface {
	PublishAppended(ctx context.Context, rec *model.Record)
}

// NoopPublisher discards records, logging them at debug level. Used when
// no webhook target is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher creates a NoopPublisher.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

// PublishAppended implements Publisher.
func (p *NoopPublisher) PublishAppended(_ context.Context, rec *model.Record) {
	p.logger.Debug("publish skipped (no publisher configured)",
		zap.String("tenant_id", rec.TenantID),
		zap.Int64("seq", rec.Seq),
	)
}
