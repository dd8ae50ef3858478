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
	"strings"
	"time"

	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"golang.org/x/oauth2"
)

var (
	// ErrNotFound is matched by errors for unknown fingerprints.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is matched by errors for rejected conflicting writes.
	ErrConflict = errors.New("different content already recorded under fingerprint")
	// ErrUnauthorized is matched by errors for missing or rejected tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// APIError is a non-success response from the ledger server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger server %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case verify.ErrLedgerUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// Record is a ledger record as returned by GetRecord.
type Record struct {
	Status      string          `json:"status"`
	Fingerprint string          `json:"fingerprint"`
	RecordedAt  time.Time       `json:"recorded_at"`
	Kind        string          `json:"kind"`
	Scheme      string          `json:"scheme"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// RecordResult is the server's answer to Record.
type RecordResult struct {
	Outcome     string    `json:"outcome"`
	Fingerprint string    `json:"fingerprint"`
	RecordedAt  time.Time `json:"recorded_at"`
	Scheme      string    `json:"scheme"`
}

// Overview describes the ledger behind a server.
type Overview struct {
	Records int    `json:"records"`
	Backend string `json:"backend"`
	Scheme  string `json:"scheme"`
}

// Client talks to a ledger server.
type Client struct {
	base       string
	httpClient *http.Client
	tokens     oauth2.TokenSource // nil = anonymous
	hasher     fingerprint.Hasher
	timeout    time.Duration
	verifier   *verify.Verifier
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithProducerToken attaches a producer token to write requests.
func WithProducerToken(token string) Option {
	return func(c *Client) error {
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		return nil
	}
}

// WithHasher selects the hash algorithm used for local verification. It
// must match the server's fingerprint scheme.
func WithHasher(h fingerprint.Hasher) Option {
	return func(c *Client) error {
		c.hasher = h
		return nil
	}
}

// WithTimeout bounds every request. Zero disables the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// New creates a Client for the server at base.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithTimeout(5*time.Second),
//	)
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{},
		hasher:     fingerprint.Default(),
		timeout:    30 * time.Second,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	c.verifier = verify.New(c, verify.WithHasher(c.hasher))
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Summarize asks the server to summarize text. The returned result carries
// its fingerprint in verification_hash.
func (c *Client) Summarize(ctx context.Context, text string) (map[string]any, error) {
	return c.generate(ctx, "summary", map[string]string{"text": text})
}

// Answer asks the server to answer question from contextText.
func (c *Client) Answer(ctx context.Context, contextText, question string) (map[string]any, error) {
	return c.generate(ctx, "answer", map[string]string{"context": contextText, "question": question})
}

// LearningPath asks the server for a learning path on topic.
func (c *Client) LearningPath(ctx context.Context, topic string) (map[string]any, error) {
	return c.generate(ctx, "learning-path", map[string]string{"topic": topic})
}

func (c *Client) generate(ctx context.Context, what string, body any) (map[string]any, error) {
	raw, err := c.call(ctx, http.MethodPost, "/api/v1/generate/"+what, body, false)
	if err != nil {
		return nil, err
	}
	res, err := canonical.DecodeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", what, err)
	}
	return res, nil
}

// Lookup implements verify.Ledger against the server. An unknown
// fingerprint yields nil, nil.
func (c *Client) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*verify.Entry, error) {
	rec, err := c.GetRecord(ctx, string(fp))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	got, err := fingerprint.Parse(rec.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("server returned %w", err)
	}
	return &verify.Entry{Fingerprint: got, RecordedAt: rec.RecordedAt}, nil
}

// GetRecord fetches the record stored under fp.
func (c *Client) GetRecord(ctx context.Context, fp string) (*Record, error) {
	raw, err := c.call(ctx, http.MethodGet, "/api/v1/ledger/records/"+url.PathEscape(fp), nil, false)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Overview returns the server's record count, backend and scheme.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	raw, err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, false)
	if err != nil {
		return nil, err
	}
	var ov Overview
	if err := json.Unmarshal(raw, &ov); err != nil {
		return nil, fmt.Errorf("decode overview: %w", err)
	}
	return &ov, nil
}

// Record ingests payload under kind. claimed may be empty; when set the
// server rejects the write unless it matches the computed fingerprint.
// Requires WithProducerToken.
func (c *Client) Record(ctx context.Context, kind string, payload map[string]any, claimed string) (*RecordResult, error) {
	canon, err := canonical.Encode(payload)
	if err != nil {
		return nil, err
	}
	body := struct {
		Kind        string          `json:"kind"`
		Payload     json.RawMessage `json:"payload"`
		Fingerprint string          `json:"fingerprint,omitempty"`
	}{kind, canon, claimed}

	raw, err := c.call(ctx, http.MethodPost, "/api/v1/ledger/records", body, true)
	if err != nil {
		return nil, err
	}
	var out RecordResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode record result: %w", err)
	}
	return &out, nil
}

// Verify checks displayed against the ledger record for claimed. Hashing
// happens locally; only the lookup uses the server.
func (c *Client) Verify(ctx context.Context, displayed map[string]any, claimed string) (*verify.Result, error) {
	return c.verifier.Verify(ctx, displayed, claimed)
}

// VerifyResult verifies a result carrying its own verification_hash.
func (c *Client) VerifyResult(ctx context.Context, result map[string]any) (*verify.Result, error) {
	return c.verifier.VerifyResult(ctx, result)
}

// VerifyRemote asks the server to verify displayed against claimed.
// Ledger and transport failures match verify.ErrLedgerUnavailable.
func (c *Client) VerifyRemote(ctx context.Context, displayed map[string]any, claimed string) (*verify.Result, error) {
	canon, err := canonical.Encode(displayed)
	if err != nil {
		return nil, err
	}
	body := struct {
		Payload     json.RawMessage `json:"payload"`
		Fingerprint string          `json:"fingerprint"`
	}{canon, claimed}

	raw, err := c.call(ctx, http.MethodPost, "/api/v1/verify", body, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return nil, err
		}
		return nil, &verify.TransportError{Fingerprint: fingerprint.Fingerprint(claimed), Err: err}
	}
	var res verify.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	return &res, nil
}

// call sends a JSON request and returns the body of a 2xx response.
func (c *Client) call(ctx context.Context, method, path string, body any, authed bool) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed && c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("producer token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts the error or status field of a JSON error body,
// falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error  string `json:"error"`
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Status != "" {
			return e.Status
		}
	}
	return strings.TrimSpace(string(body))
}
