package generate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/ResultLedger/internal/generate"
	"go.uber.org/zap"
)

var ctx = context.Background()

// fakeCompletions serves the chat completions endpoint and records the
// user prompts it received.
type fakeCompletions struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	status  int
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	f.mu.Lock()
	for _, m := range req.Messages {
		if m.Role == "user" {
			f.prompts = append(f.prompts, m.Content)
		}
	}
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`)) //nolint:errcheck
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": f.reply},
			"finish_reason": "stop",
		}},
	})
}

func newGenerator(t *testing.T, f *fakeCompletions) generate.Generator {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return generate.New(generate.Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestNew_unconfiguredWithoutKey(t *testing.T) {
	g := generate.New(generate.Config{}, zap.NewNop())
	if _, err := g.Summarize(ctx, "x"); !errors.Is(err, generate.ErrNotConfigured) {
		t.Errorf("Summarize err = %v, want ErrNotConfigured", err)
	}
	if _, err := g.Answer(ctx, "c", "q"); !errors.Is(err, generate.ErrNotConfigured) {
		t.Errorf("Answer err = %v, want ErrNotConfigured", err)
	}
	if _, err := g.LearningPath(ctx, "t"); !errors.Is(err, generate.ErrNotConfigured) {
		t.Errorf("LearningPath err = %v, want ErrNotConfigured", err)
	}
}

func TestSummarize(t *testing.T) {
	f := &fakeCompletions{reply: "  The cat sat.\n"}
	g := newGenerator(t, f)

	got, err := g.Summarize(ctx, "A cat was sitting on a mat for a long while.")
	if err != nil {
		t.Fatal(err)
	}
	if got != "The cat sat." {
		t.Errorf("Summarize = %q, want trimmed reply", got)
	}
	if len(f.prompts) != 1 || !strings.Contains(f.prompts[0], "A cat was sitting") {
		t.Errorf("prompt = %q", f.prompts)
	}
}

func TestSummarize_longInputUsesFirstChunk(t *testing.T) {
	f := &fakeCompletions{reply: "short"}
	g := newGenerator(t, f)

	para := strings.Repeat("alpha ", 150) // ~900 chars
	text := para + "\n\n" + strings.Repeat("omega ", 150)
	if _, err := g.Summarize(ctx, text); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(f.prompts[0], "omega") {
		t.Error("prompt contains text beyond the first chunk")
	}
}

func TestAnswer(t *testing.T) {
	f := &fakeCompletions{reply: "Paris"}
	g := newGenerator(t, f)

	got, err := g.Answer(ctx, "Paris is the capital of France.", "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Paris" {
		t.Errorf("Answer = %q", got)
	}
	p := f.prompts[0]
	if !strings.Contains(p, "Paris is the capital of France.") || !strings.Contains(p, "What is the capital of France?") {
		t.Errorf("prompt missing inputs: %q", p)
	}
}

func TestLearningPath(t *testing.T) {
	f := &fakeCompletions{reply: "- **Basics**\n- **Practice**"}
	g := newGenerator(t, f)

	got, err := g.LearningPath(ctx, "Go")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "- **Basics**") {
		t.Errorf("LearningPath = %q", got)
	}
	if !strings.Contains(f.prompts[0], `"Go"`) {
		t.Errorf("prompt = %q", f.prompts[0])
	}
}

func TestEmptyReply(t *testing.T) {
	g := newGenerator(t, &fakeCompletions{reply: "   "})
	if _, err := g.Summarize(ctx, "x"); !errors.Is(err, generate.ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestUpstreamError(t *testing.T) {
	g := newGenerator(t, &fakeCompletions{status: http.StatusInternalServerError})
	_, err := g.Answer(ctx, "c", "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, generate.ErrNotConfigured) {
		t.Error("upstream failure reported as not configured")
	}
}
