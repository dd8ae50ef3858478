package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ResultLedger/internal/auth"
	"github.com/jmerrifield20/ResultLedger/internal/ledger"
	"github.com/jmerrifield20/ResultLedger/internal/service"
	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"go.uber.org/zap"
)

// LedgerHandler exposes the ledger over HTTP: lookups, producer ingest and
// three-way verification.
type LedgerHandler struct {
	svc     *service.ResultService
	backend string
	tokens  *auth.TokenIssuer // nil = ingest disabled
	logger  *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. backend names the store for
// the overview endpoint.
func NewLedgerHandler(svc *service.ResultService, backend string, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, backend: backend, logger: logger}
}

// SetTokenIssuer enables producer ingest with tokens from ti.
func (h *LedgerHandler) SetTokenIssuer(ti *auth.TokenIssuer) {
	h.tokens = ti
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/records/:fingerprint", h.GetRecord)
		l.POST("/records", auth.RequireScope(h.tokens, auth.ScopeRecord), h.Ingest)
	}
	rg.POST("/verify", h.Verify)
}

// RecordResponse is the body of a found record.
type RecordResponse struct {
	Status      string          `json:"status"`
	Fingerprint string          `json:"fingerprint"`
	RecordedAt  time.Time       `json:"recorded_at"`
	Kind        string          `json:"kind"`
	Scheme      string          `json:"scheme"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func recordResponse(r *ledger.Record) RecordResponse {
	return RecordResponse{
		Status:      "found",
		Fingerprint: string(r.Fingerprint),
		RecordedAt:  r.RecordedAt,
		Kind:        r.Kind,
		Scheme:      r.Scheme,
		Payload:     json.RawMessage(r.Payload),
	}
}

// Overview handles GET /ledger. It returns the record count, backend and scheme.
func (h *LedgerHandler) Overview(c *gin.Context) {
	count, err := h.svc.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": count,
		"backend": h.backend,
		"scheme":  h.svc.Scheme(),
	})
}

// GetRecord handles GET /ledger/records/:fingerprint.
func (h *LedgerHandler) GetRecord(c *gin.Context) {
	rec, err := h.svc.Lookup(c.Request.Context(), c.Param("fingerprint"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, recordResponse(rec))
}

// IngestRequest is the body of POST /ledger/records.
type IngestRequest struct {
	Kind        string          `json:"kind" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Fingerprint string          `json:"fingerprint"`
}

// Ingest handles POST /ledger/records, recording a producer's payload.
func (h *LedgerHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	res, err := h.svc.Record(c.Request.Context(), req.Kind, payload, req.Fingerprint)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == ledger.Inserted {
		status = http.StatusCreated
		if claims := auth.ClaimsFromCtx(c); claims != nil {
			h.logger.Info("producer recorded result",
				zap.String("producer", claims.Subject),
				zap.String("fingerprint", string(res.Fingerprint)),
			)
		}
	}
	c.JSON(status, gin.H{
		"outcome":     res.Outcome.String(),
		"fingerprint": string(res.Fingerprint),
		"recorded_at": res.Record.RecordedAt,
		"scheme":      res.Record.Scheme,
	})
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Fingerprint string          `json:"fingerprint"`
}

// Verify handles POST /verify: three-way verification of a displayed
// payload against the ledger.
func (h *LedgerHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	claimed := req.Fingerprint
	if claimed == "" {
		claimed, _ = payload[canonical.FingerprintField].(string)
	}

	res, err := h.svc.Verify(c.Request.Context(), payload, claimed)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// decodePayload parses a request payload strictly. Syntax errors are input
// errors; values the canonical form rejects stay *canonical.Error.
func decodePayload(raw json.RawMessage) (map[string]any, error) {
	payload, err := canonical.DecodeBytes(raw)
	if err != nil {
		var canonErr *canonical.Error
		if errors.As(err, &canonErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return payload, nil
}
