package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ResultLedger/internal/service"
	"go.uber.org/zap"
)

// GenerateHandler serves the generation endpoints. Every response it
// returns has already been recorded in the ledger.
type GenerateHandler struct {
	svc    *service.ResultService
	logger *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(svc *service.ResultService, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{svc: svc, logger: logger}
}

// Register mounts the generation routes on the given router group.
func (h *GenerateHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/generate")
	{
		g.POST("/summary", h.Summary)
		g.POST("/answer", h.Answer)
		g.POST("/learning-path", h.LearningPath)
	}
}

type summaryRequest struct {
	Text string `json:"text"`
}

type answerRequest struct {
	Context  string `json:"context"`
	Question string `json:"question"`
}

type learningPathRequest struct {
	Topic string `json:"topic"`
}

// Summary handles POST /generate/summary.
func (h *GenerateHandler) Summary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, func() (*service.Result, error) {
		return h.svc.Summarize(c.Request.Context(), req.Text)
	})
}

// Answer handles POST /generate/answer.
func (h *GenerateHandler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, func() (*service.Result, error) {
		return h.svc.Answer(c.Request.Context(), req.Context, req.Question)
	})
}

// LearningPath handles POST /generate/learning-path.
func (h *GenerateHandler) LearningPath(c *gin.Context) {
	var req learningPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, func() (*service.Result, error) {
		return h.svc.LearningPath(c.Request.Context(), req.Topic)
	})
}

func (h *GenerateHandler) respond(c *gin.Context, fn func() (*service.Result, error)) {
	res, err := fn()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res.Response())
}
