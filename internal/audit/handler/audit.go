package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/auditchain/auditchain/internal/audit/service"
	"github.com/auditchain/auditchain/internal/audit/store"
	"github.com/auditchain/auditchain/internal/canonical"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditHandler exposes the audit chain over HTTP.
type AuditHandler struct {
	svc    *service.ChainService
	tokens *TokenIssuer // nil = auth disabled (dev mode)
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
// tokens may be nil to disable role enforcement on all routes.
func NewAuditHandler(svc *service.ChainService, tokens *TokenIssuer, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.POST("/records", h.requireRole(RoleWriter), h.Append)
		a.GET("/records", h.requireRole(RoleAuditor), h.Search)
		a.GET("/records/:id", h.requireRole(RoleAuditor), h.GetRecord)
		a.GET("/verify", h.requireRole(RoleAuditor), h.Verify)
		a.GET("/export", h.requireRole(RoleAuditor), h.ExportCSV)
	}
}

// requireRole returns the RequireRole middleware when auth is configured,
// or a no-op middleware for development/open mode.
func (h *AuditHandler) requireRole(role string) gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return RequireRole(h.tokens, role)
}

// Append handles POST /audit/records — appends a record to the tenant's
// chain. Responds 201 when a new record was created and 200 when an
// earlier submission was replayed idempotently.
func (h *AuditHandler) Append(c *gin.Context) {
	var req model.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Append(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, canonical.ErrUnencodable) {
			RecordAppend("rejected")
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		RecordAppend("error")
		h.logger.Error("append failed",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append audit record"})
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		RecordAppend("created")
	} else {
		RecordAppend("replayed")
	}
	c.JSON(status, res.Record)
}

// GetRecord handles GET /audit/records/:id.
func (h *AuditHandler) GetRecord(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}

	rec, err := h.svc.GetByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("audit record not found: %s", id)})
		return
	}
	if err != nil {
		h.logger.Error("get record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Search handles GET /audit/records — paged, filtered search for a tenant.
func (h *AuditHandler) Search(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	q := model.SearchQuery{
		TenantID: tenantID,
		Actor:    c.Query("actor"),
		Action:   c.Query("action"),
	}

	var err error
	if q.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	if q.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	q.Page, _ = strconv.Atoi(c.DefaultQuery("page", "0"))
	q.Size, _ = strconv.Atoi(c.DefaultQuery("size", "50"))

	res, err := h.svc.Search(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("search records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search audit records"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Verify handles GET /audit/verify — walks the tenant's chain and reports
// integrity. Both outcomes are 200: a broken chain is a finding, not a
// server fault.
func (h *AuditHandler) Verify(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	fromSeq, toSeq, err := parseSeqBounds(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), tenantID, fromSeq, toSeq)
	if err != nil {
		RecordVerify("error")
		h.logger.Error("verify chain", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify audit chain"})
		return
	}
	if res.OK {
		RecordVerify("ok")
	} else {
		RecordVerify("mismatch")
		h.logger.Warn("audit chain verification failed",
			zap.String("tenant_id", tenantID),
			zap.String("first_mismatch_id", res.FirstMismatchID.String()),
			zap.String("reason", res.Message),
		)
	}
	c.JSON(http.StatusOK, res)
}

// ExportCSV handles GET /audit/export — streams the tenant's records as a
// CSV attachment. The chain is verified before any row is written.
func (h *AuditHandler) ExportCSV(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	fromSeq, toSeq, err := parseSeqBounds(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit_export_"+tenantID+".csv"))

	if err := h.svc.ExportCSV(c.Request.Context(), c.Writer, tenantID, fromSeq, toSeq); err != nil {
		// Headers are already out; all we can do is log and cut the stream.
		h.logger.Error("export csv", zap.String("tenant_id", tenantID), zap.Error(err))
		c.Abort()
	}
}

func parseSeqBounds(c *gin.Context) (fromSeq, toSeq *int64, err error) {
	if v := c.Query("from_seq"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n < 1 {
			return nil, nil, errors.New("from_seq must be a positive integer")
		}
		fromSeq = &n
	}
	if v := c.Query("to_seq"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n < 1 {
			return nil, nil, errors.New("to_seq must be a positive integer")
		}
		toSeq = &n
	}
	return fromSeq, toSeq, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
