// Package alert notifies operators when the ledger rejects a write because
// different content was submitted under an already recorded fingerprint.
// Such a conflict means either a hash collision or a tampering attempt, and
// is never resolved automatically.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventLedgerConflict is the event type sent for write conflicts.
const EventLedgerConflict = "ledger.conflict"

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Ledger-Signature"

// Event is the JSON body posted to the webhook.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Fingerprint string    `json:"fingerprint"`
	Kind        string    `json:"kind,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Notifier receives conflict events.
type Notifier interface {
	NotifyConflict(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// NotifyConflict implements Notifier.
func (Nop) NotifyConflict(context.Context, Event) {}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Webhook posts signed events to a single URL, retrying failed deliveries.
// Deliveries run in the background; Close waits for them to finish.
type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewWebhook creates a Webhook notifier. An empty secret sends unsigned
// requests.
func NewWebhook(url, secret string, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Three attempts: immediately, then after 1s and 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (w *Webhook) SetMetricsRecorder(fn MetricsRecorder) {
	w.onMetrics = fn
}

// SetRetryDelays replaces the wait before each attempt. The number of
// delays is the number of attempts.
func (w *Webhook) SetRetryDelays(delays []time.Duration) {
	w.delays = delays
}

// NotifyConflict implements Notifier. It returns immediately; delivery
// outlives the caller's request context.
func (w *Webhook) NotifyConflict(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Type == "" {
		ev.Type = EventLedgerConflict
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliver(context.WithoutCancel(ctx), ev)
	}()
}

// Close waits for in-flight deliveries.
func (w *Webhook) Close() {
	w.wg.Wait()
}

func (w *Webhook) deliver(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("alert: marshal event", zap.Error(err))
		return
	}
	signature := ""
	if w.secret != "" {
		signature = Sign(body, w.secret)
	}

	for attempt, delay := range w.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		err := w.post(ctx, body, signature)
		if w.onMetrics != nil {
			w.onMetrics(err == nil)
		}
		if err == nil {
			return
		}
		w.logger.Warn("alert: delivery failed",
			zap.String("url", w.url),
			zap.String("event_id", ev.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	w.logger.Error("alert: giving up on conflict event",
		zap.String("event_id", ev.ID),
		zap.String("fingerprint", ev.Fingerprint),
	)
}

func (w *Webhook) post(ctx context.Context, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the "sha256=<hex>" HMAC signature of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the valid Sign output for body.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
