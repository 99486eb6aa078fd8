package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// Logger returns a logger that discards output unless SCRIPTCAST_TEST_VERBOSE is set.
func Logger() *slog.Logger {
	if os.Getenv("SCRIPTCAST_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BackendRequest records one call to the fake automation backend.
type BackendRequest struct {
	Path string
	Body map[string]any
}

// FakeBackend is an in-process automation backend. It answers the
// generate-tts routes, cancel-tts, join-audio and serves generated audio.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []BackendRequest
	segments int
	// FailAt makes the n-th synthesis request (1-based) answer success=false.
	FailAt int
	// Delay is slept before answering each synthesis request.
	Delay time.Duration
}

// NewFakeBackend starts a fake backend that is closed with the test.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{}
	fb.Server = httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(fb.Server.Close)
	return fb
}

// URL returns the backend base URL.
func (fb *FakeBackend) URL() string {
	return fb.Server.URL
}

// Requests returns the recorded requests in arrival order.
func (fb *FakeBackend) Requests() []BackendRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]BackendRequest, len(fb.requests))
	copy(out, fb.requests)
	return out
}

// RequestsTo returns the recorded requests whose path has the given prefix.
func (fb *FakeBackend) RequestsTo(prefix string) []BackendRequest {
	var out []BackendRequest
	for _, r := range fb.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (fb *FakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/audio/") {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3" + filepath.Base(r.URL.Path)))
		return
	}

	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	fb.mu.Lock()
	fb.requests = append(fb.requests, BackendRequest{Path: r.URL.Path, Body: body})
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/automations/generate-tts"):
		fb.synthesize(w, body)
	case r.URL.Path == "/api/automations/cancel-tts":
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	case r.URL.Path == "/api/automations/join-audio":
		name, _ := body["output_name"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"filename":  name + ".mp3",
				"audio_url": "/audio/" + name + ".mp3",
				"duration":  12.5,
				"size":      2048,
			},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "not found"})
	}
}

func (fb *FakeBackend) synthesize(w http.ResponseWriter, body map[string]any) {
	fb.mu.Lock()
	fb.segments++
	n := fb.segments
	failAt, delay := fb.FailAt, fb.Delay
	fb.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if n == failAt {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "voice quota exceeded"})
		return
	}

	voice, _ := body["voice_id"].(string)
	filename := fmt.Sprintf("seg_%d.mp3", n)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"filename":   filename,
			"audio_url":  "/audio/" + filename,
			"duration":   1.5,
			"size":       1024,
			"voice_used": voice,
			"job_id":     "provider-job-1",
		},
	})
}

// ServerConfig returns configuration values for creating a test server.
// This avoids importing the server package directly.
type ServerConfig struct {
	Host       string
	Port       string
	HomeDir    string
	ConfigFile string
	Logger     *slog.Logger
}

// NewServerConfig creates configuration for a test server on a free port.
// The config file points the narration backend at backendURL and keeps the
// library in memory.
func NewServerConfig(t *testing.T, backendURL string) ServerConfig {
	t.Helper()

	tempDir := t.TempDir()
	httpPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for HTTP: %v", err)
	}

	configFile := filepath.Join(tempDir, "config.yaml")
	content := fmt.Sprintf(`backend:
  base_url: %s
  api_key: test-token
tts:
  request_delay_ms: 1
  retry_delay_ms: 1
library:
  backend: memory
llm:
  api_key: ""
`, backendURL)
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return ServerConfig{
		Host:       "127.0.0.1",
		Port:       httpPort,
		HomeDir:    filepath.Join(tempDir, "home"),
		ConfigFile: configFile,
		Logger:     Logger(),
	}
}

// URL returns the server URL for the given config.
func (c ServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// WaitForServer polls the /status endpoint until the server reports running.
func WaitForServer(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/status")
		if err == nil {
			var status struct {
				Server string `json:"server"`
			}
			err := json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			if err == nil && status.Server == "running" {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}

// WaitForShutdown waits for a channel to receive a value or timeout.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
