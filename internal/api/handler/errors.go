package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ResultLedger/internal/generate"
	"github.com/jmerrifield20/ResultLedger/internal/ledger"
	"github.com/jmerrifield20/ResultLedger/internal/service"
	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"go.uber.org/zap"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		canonErr *canonical.Error
		genErr   *service.GenerationError
	)
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrFingerprintMismatch):
		return http.StatusBadRequest
	case errors.As(err, &canonErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generate.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.Is(err, verify.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with {"error": ...}. Server-side failures are logged
// and their details withheld from the client.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	case http.StatusServiceUnavailable:
		if errors.Is(err, verify.ErrLedgerUnavailable) {
			msg = "ledger unavailable"
		}
	case http.StatusBadGateway:
		msg = "generation backend failed"
	}
	c.JSON(status, gin.H{"error": msg})
}
