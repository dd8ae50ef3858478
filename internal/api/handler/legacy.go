package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ResultLedger/internal/ledger"
	"github.com/jmerrifield20/ResultLedger/internal/service"
	"go.uber.org/zap"
)

// notFoundMessage is the body message older clients match on.
const notFoundMessage = "Hash not found in mock blockchain ledger. Data may have been tampered with or never recorded."

// LegacyHandler keeps the unversioned routes and response shapes that the
// first web frontend was built against.
type LegacyHandler struct {
	svc    *service.ResultService
	logger *zap.Logger
}

// NewLegacyHandler creates a new LegacyHandler.
func NewLegacyHandler(svc *service.ResultService, logger *zap.Logger) *LegacyHandler {
	return &LegacyHandler{svc: svc, logger: logger}
}

// Register mounts the legacy routes at the router root. The generation
// routes answer a body that is not valid JSON with the same 400 message as
// one missing its fields, which is what older clients expect.
func (h *LegacyHandler) Register(r gin.IRoutes) {
	r.POST("/summarize", h.Summarize)
	r.POST("/qa", h.QA)
	r.POST("/learning_path", h.LearningPath)
	r.GET("/verify_on_chain/:hash", h.VerifyOnChain)
}

// Summarize handles POST /summarize.
func (h *LegacyHandler) Summarize(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No text provided"})
		return
	}
	h.respond(c, func() (*service.Result, error) {
		return h.svc.Summarize(c.Request.Context(), req.Text)
	})
}

// QA handles POST /qa.
func (h *LegacyHandler) QA(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Context == "" || req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Context and question are required"})
		return
	}
	h.respond(c, func() (*service.Result, error) {
		return h.svc.Answer(c.Request.Context(), req.Context, req.Question)
	})
}

// LearningPath handles POST /learning_path.
func (h *LegacyHandler) LearningPath(c *gin.Context) {
	var req learningPathRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No topic provided"})
		return
	}
	h.respond(c, func() (*service.Result, error) {
		return h.svc.LearningPath(c.Request.Context(), req.Topic)
	})
}

func (h *LegacyHandler) respond(c *gin.Context, fn func() (*service.Result, error)) {
	res, err := fn()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res.Response())
}

type recordedDetails struct {
	Timestamp           string `json:"timestamp"`
	DataType            string `json:"data_type"`
	OriginalDataPreview string `json:"original_data_preview"`
}

// VerifyOnChain handles GET /verify_on_chain/:hash. Malformed hashes are
// reported the same way as unknown ones.
func (h *LegacyHandler) VerifyOnChain(c *gin.Context) {
	hash := c.Param("hash")
	rec, err := h.svc.Lookup(c.Request.Context(), hash)
	if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, service.ErrInvalidInput) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "not_found",
			"message": notFoundMessage,
		})
		return
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "found",
		"hash":   string(rec.Fingerprint),
		"recorded_details": recordedDetails{
			Timestamp:           rec.RecordedAt.Format(time.RFC3339Nano),
			DataType:            rec.Kind,
			OriginalDataPreview: rec.Preview(),
		},
	})
}
