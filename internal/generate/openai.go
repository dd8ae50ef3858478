package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second

	// Summaries are produced from the first chunk of long inputs.
	summaryChunkSize    = 1000
	summaryChunkOverlap = 200
)

var (
	summaryPrompt = prompts.NewPromptTemplate(
		"Summarize the following text concisely and accurately:\n\"{{.text}}\"\nSummary:",
		[]string{"text"},
	)
	answerPrompt = prompts.NewPromptTemplate(
		"Given the following context, answer the question. If the answer is not in the context, state that.\n\n"+
			"Context: \"{{.context}}\"\n\nQuestion: \"{{.question}}\"\n\nAnswer:",
		[]string{"context", "question"},
	)
	learningPathPrompt = prompts.NewPromptTemplate(
		"Generate a step-by-step learning path for the topic \"{{.topic}}\". "+
			"Provide at least 5 distinct steps, each on a new line, starting with a bullet point. "+
			"Use markdown bolding for key terms or step titles.\nLearning Path:",
		[]string{"topic"},
	)
)

// OpenAI generates content through an OpenAI-compatible chat completion API.
type OpenAI struct {
	client   *openai.Client
	model    string
	timeout  time.Duration
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

// NewOpenAI creates an OpenAI generator from cfg.
func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(summaryChunkSize),
			textsplitter.WithChunkOverlap(summaryChunkOverlap),
		),
		logger: logger,
	}
}

// Summarize implements Generator. Inputs longer than one chunk are split
// and only the first chunk is summarized.
func (g *OpenAI) Summarize(ctx context.Context, text string) (string, error) {
	chunks, err := g.splitter.SplitText(text)
	if err != nil {
		return "", fmt.Errorf("split text: %w", err)
	}
	input := text
	if len(chunks) > 0 {
		input = chunks[0]
	}
	if len(chunks) > 1 {
		g.logger.Debug("summarizing first chunk only", zap.Int("chunks", len(chunks)))
	}
	prompt, err := summaryPrompt.Format(map[string]any{"text": input})
	if err != nil {
		return "", fmt.Errorf("format summary prompt: %w", err)
	}
	return g.complete(ctx, "summary", prompt)
}

// Answer implements Generator.
func (g *OpenAI) Answer(ctx context.Context, contextText, question string) (string, error) {
	prompt, err := answerPrompt.Format(map[string]any{"context": contextText, "question": question})
	if err != nil {
		return "", fmt.Errorf("format answer prompt: %w", err)
	}
	return g.complete(ctx, "answer", prompt)
}

// LearningPath implements Generator. The result is a markdown list.
func (g *OpenAI) LearningPath(ctx context.Context, topic string) (string, error) {
	prompt, err := learningPathPrompt.Format(map[string]any{"topic": topic})
	if err != nil {
		return "", fmt.Errorf("format learning path prompt: %w", err)
	}
	return g.complete(ctx, "learning path", prompt)
}

func (g *OpenAI) complete(ctx context.Context, what, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a helpful assistant."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", what, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate %s: %w", what, ErrEmptyResponse)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("generate %s: %w", what, ErrEmptyResponse)
	}
	g.logger.Debug("generated",
		zap.String("what", what),
		zap.String("model", g.model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Duration("latency", time.Since(start)),
	)
	return out, nil
}
