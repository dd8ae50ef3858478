// Package generate adapts the external text generation service that
// produces result content. The ledger never generates text itself; it only
// fingerprints and records what a Generator returns.
package generate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned by every method of Unconfigured.
	ErrNotConfigured = errors.New("generator not configured")
	// ErrEmptyResponse is returned when the model answers with no content.
	ErrEmptyResponse = errors.New("generator returned no content")
)

// Generator produces the three kinds of result content.
type Generator interface {
	Summarize(ctx context.Context, text string) (string, error)
	Answer(ctx context.Context, contextText, question string) (string, error)
	LearningPath(ctx context.Context, topic string) (string, error)
}

// Config selects and configures the OpenAI-compatible backend.
type Config struct {
	APIKey  string
	BaseURL string // empty means the public OpenAI endpoint
	Model   string
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// New returns an OpenAI-backed Generator, or Unconfigured when no API key
// is set so the service can still verify and serve recorded results.
func New(cfg Config, logger *zap.Logger) Generator {
	if cfg.APIKey == "" {
		logger.Warn("generator: no API key configured, generation endpoints will return 503")
		return Unconfigured{}
	}
	return NewOpenAI(cfg, logger)
}

// Unconfigured is the Generator used when no backend is available.
type Unconfigured struct{}

func (Unconfigured) Summarize(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) Answer(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) LearningPath(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}
