// Package drafts generates titles, premises and scripts with an
// OpenAI-compatible chat model.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/scriptcast/internal/library"
)

const (
	DefaultModel = "gpt-4o-mini"

	// maxRepairAttempts bounds how often a response that fails validation
	// is sent back to the model with the error.
	maxRepairAttempts = 2

	maxTitles   = 50
	maxChapters = 30
)

var (
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("llm api key is not configured")
	// ErrInvalidInput is returned for empty or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid drafting input")
)

// Config holds configuration for the drafting client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // empty = api.openai.com
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client // optional, for tests
}

// Generator drafts panel content with a chat model.
type Generator struct {
	client  openai.Client
	model   string
	enabled bool
	logger  *slog.Logger

	titlesSchema  *jsonschema.Schema
	premiseSchema *jsonschema.Schema
	scriptSchema  *jsonschema.Schema
}

// New creates a generator. A missing API key is not an error here; calls
// return ErrNotConfigured instead so the server can still start.
func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	g := &Generator{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		enabled: cfg.APIKey != "",
		logger:  logger.With("component", "drafts"),
	}

	var err error
	if g.titlesSchema, err = compileSchema("titles", TitlesSchema); err != nil {
		return nil, err
	}
	if g.premiseSchema, err = compileSchema("premise", PremiseSchema); err != nil {
		return nil, err
	}
	if g.scriptSchema, err = compileSchema("script", ScriptSchema); err != nil {
		return nil, err
	}
	return g, nil
}

// Model returns the configured chat model.
func (g *Generator) Model() string {
	return g.model
}

// Enabled reports whether an API key was configured.
func (g *Generator) Enabled() bool {
	return g.enabled
}

// Titles suggests n titles for topic. examples, when given, steer the style.
func (g *Generator) Titles(ctx context.Context, topic string, n int, examples []string) ([]library.Title, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if n <= 0 || n > maxTitles {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidInput, maxTitles)
	}

	prompt, err := render("titles.tmpl", titlesPrompt{Topic: topic, Count: n, Examples: examples})
	if err != nil {
		return nil, err
	}

	var out struct {
		Titles []string `json:"titles"`
	}
	if err := g.complete(ctx, prompt, g.titlesSchema, &out); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	titles := make([]library.Title, 0, len(out.Titles))
	for _, t := range out.Titles {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, library.Title{Text: t, CreatedAt: now})
		}
	}
	return titles, nil
}

// Premise writes the premise for a title.
func (g *Generator) Premise(ctx context.Context, title string) (library.Premise, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return library.Premise{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	prompt, err := render("premise.tmpl", premisePrompt{Title: title})
	if err != nil {
		return library.Premise{}, err
	}

	var out struct {
		Premise string `json:"premise"`
	}
	if err := g.complete(ctx, prompt, g.premiseSchema, &out); err != nil {
		return library.Premise{}, err
	}
	return library.Premise{
		Title:     title,
		Text:      strings.TrimSpace(out.Premise),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Script writes a chaptered script from a title and premise.
func (g *Generator) Script(ctx context.Context, title, premise string, chapters int) (library.Script, error) {
	title = strings.TrimSpace(title)
	premise = strings.TrimSpace(premise)
	if title == "" || premise == "" {
		return library.Script{}, fmt.Errorf("%w: title and premise are required", ErrInvalidInput)
	}
	if chapters <= 0 || chapters > maxChapters {
		return library.Script{}, fmt.Errorf("%w: chapters must be between 1 and %d", ErrInvalidInput, maxChapters)
	}

	prompt, err := render("script.tmpl", scriptPrompt{Title: title, Premise: premise, Chapters: chapters})
	if err != nil {
		return library.Script{}, err
	}

	var out struct {
		Chapters []library.Chapter `json:"chapters"`
	}
	if err := g.complete(ctx, prompt, g.scriptSchema, &out); err != nil {
		return library.Script{}, err
	}
	return library.Script{
		Title:     title,
		Premise:   premise,
		Chapters:  out.Chapters,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// complete asks for a JSON object and validates it against schema. A
// response that fails validation is returned to the model with the error so
// it can repair its answer.
func (g *Generator) complete(ctx context.Context, prompt string, schema *jsonschema.Schema, out any) error {
	if !g.enabled {
		return ErrNotConfigured
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPrompt()),
		openai.UserMessage(prompt),
	}

	var lastErr error
	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		start := time.Now()
		resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(g.model),
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
		})
		if err != nil {
			return mapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("llm returned no choices")
		}

		content := resp.Choices[0].Message.Content
		g.logger.Debug("draft completion",
			"model", g.model,
			"attempt", attempt+1,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"duration", time.Since(start))

		raw := extractJSON(content)
		if lastErr = validate(schema, []byte(raw), out); lastErr == nil {
			return nil
		}

		g.logger.Warn("draft failed validation", "attempt", attempt+1, "error", lastErr)
		messages = append(messages,
			openai.AssistantMessage(content),
			openai.UserMessage(fmt.Sprintf("That answer was rejected: %v. Reply again with only the corrected JSON object.", lastErr)),
		)
	}
	return fmt.Errorf("llm output invalid after %d attempts: %w", maxRepairAttempts+1, lastErr)
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("llm error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("llm error (status %d)", apiErr.StatusCode)
	}
	return err
}

// extractJSON strips code fences and surrounding prose from a model reply.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		lines := strings.Split(trimmed, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[:len(lines)-1]
			}
			trimmed = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}
