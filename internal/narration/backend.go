package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	cancelPath = "/api/automations/cancel-tts"
	joinPath   = "/api/automations/join-audio"
)

// BackendConfig holds configuration for the automation backend client.
type BackendConfig struct {
	BaseURL string
	APIKey  string // sent as a bearer token when set
	Timeout time.Duration
}

// BackendClient talks to the automation backend's TTS routes.
type BackendClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBackendClient creates a new backend client.
func NewBackendClient(cfg BackendConfig) *BackendClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second // TTS can be slow for long text
	}
	return &BackendClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// BaseURL returns the backend root the client was built with.
func (c *BackendClient) BaseURL() string {
	return c.baseURL
}

// SynthesisRequest is the body posted to a generate-tts route.
type SynthesisRequest struct {
	Text string `json:"text"`
	Voice
	JobID string `json:"job_id,omitempty"`
}

// SynthesisResult is the data returned for one synthesized segment.
type SynthesisResult struct {
	Filename  string  `json:"filename"`
	AudioURL  string  `json:"audio_url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
	VoiceUsed string  `json:"voice_used"`
	JobID     string  `json:"job_id,omitempty"`
}

// JoinRequest asks the backend to concatenate previously generated files.
type JoinRequest struct {
	Filenames  []string `json:"filenames"`
	OutputName string   `json:"output_name,omitempty"`
}

// JoinResult describes the joined audio file.
type JoinResult struct {
	Filename string  `json:"filename"`
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BackendError is returned when the backend rejects a request or answers
// with success=false.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return "backend error: " + e.Message
}

// RateLimitError is returned when the backend answers HTTP 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError reports whether err wraps a RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter accepts either delay-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Synthesize sends one segment to the provider's route.
func (c *BackendClient) Synthesize(ctx context.Context, provider Provider, req SynthesisRequest) (*SynthesisResult, error) {
	path := provider.Path()
	if path == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	var env envelope[SynthesisResult]
	if err := c.post(ctx, path, req, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &BackendError{StatusCode: http.StatusOK, Message: orDefault(env.Error, "synthesis failed")}
	}
	if env.Data == nil {
		return nil, &BackendError{StatusCode: http.StatusOK, Message: "response missing data"}
	}
	return env.Data, nil
}

// CancelJob asks the backend to stop a provider-side job.
func (c *BackendClient) CancelJob(ctx context.Context, providerJobID string) error {
	var env envelope[json.RawMessage]
	if err := c.post(ctx, cancelPath, map[string]string{"job_id": providerJobID}, &env); err != nil {
		return err
	}
	if !env.Success {
		return &BackendError{StatusCode: http.StatusOK, Message: orDefault(env.Error, "cancel failed")}
	}
	return nil
}

// JoinAudio asks the backend to concatenate generated files into one.
func (c *BackendClient) JoinAudio(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	var env envelope[JoinResult]
	if err := c.post(ctx, joinPath, req, &env); err != nil {
		return nil, err
	}
	if !env.Success || env.Data == nil {
		return nil, &BackendError{StatusCode: http.StatusOK, Message: orDefault(env.Error, "join failed")}
	}
	return env.Data, nil
}

// Fetch opens a generated audio file. Relative URLs are resolved against
// the backend root. The caller must close the returned body.
func (c *BackendClient) Fetch(ctx context.Context, audioURL string) (io.ReadCloser, error) {
	target := audioURL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return resp.Body, nil
}

func (c *BackendClient) post(ctx context.Context, path string, body, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp envelope[json.RawMessage]
		errMsg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			errMsg = errResp.Error
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				Message:    fmt.Sprintf("backend rate limited: %s", errMsg),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				StatusCode: resp.StatusCode,
			}
		}
		return &BackendError{StatusCode: resp.StatusCode, Message: errMsg}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *BackendClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
