package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/scriptcast/internal/config"
	"github.com/jackzampolin/scriptcast/internal/home"
	"github.com/jackzampolin/scriptcast/internal/narration"
	"github.com/jackzampolin/scriptcast/internal/server/endpoints"
	"github.com/jackzampolin/scriptcast/internal/testutil"
)

func newTestServer(t *testing.T, backendURL string) (*Server, testutil.ServerConfig) {
	t.Helper()
	cfg := testutil.NewServerConfig(t, backendURL)

	mgr, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	dir, err := home.New(cfg.HomeDir)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}

	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Home:          dir,
		ConfigManager: mgr,
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, cfg
}

func TestServer_RequiresInit(t *testing.T) {
	srv, _ := newTestServer(t, "http://127.0.0.1:1")

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/status", http.StatusOK},
		{"GET", "/api/narrations", http.StatusServiceUnavailable},
		{"GET", "/api/library/titles", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// Segmentation preview works from config alone.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/segments", strings.NewReader(`{"text":"One. Two.","max_chars":5}`))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("segments status = %d: %s", rec.Code, rec.Body.String())
	}
	var preview endpoints.SegmentsResponse
	json.NewDecoder(rec.Body).Decode(&preview)
	if preview.Summary.Count != 2 {
		t.Errorf("expected 2 segments, got %+v", preview)
	}
}

func TestServer_FullLifecycle(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	srv, cfg := newTestServer(t, backend.URL())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Start server in background
	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("narration_round_trip", func(t *testing.T) {
		body := `{"text":"The keeper climbed the stairs. The lamp was dark. Something moved below.","segmentation":{"enabled":true,"max_chars":40},"wait":true}`
		resp, err := http.Post(cfg.URL()+"/api/narrations", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("create narration failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var snap narration.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if snap.State != narration.StateCompleted || snap.Completed != snap.Total || snap.Total < 2 {
			t.Errorf("unexpected snapshot %+v", snap)
		}

		reqs := backend.RequestsTo("/api/automations/generate-tts")
		if len(reqs) != snap.Total {
			t.Errorf("backend saw %d requests, want %d", len(reqs), snap.Total)
		}
		for _, r := range reqs {
			if text, _ := r.Body["text"].(string); len([]rune(text)) > 40 {
				t.Errorf("segment over budget: %q", text)
			}
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
		if srv.Orchestrator() == nil || srv.Library() == nil {
			t.Error("expected services after start")
		}
	})

	// Shutdown server
	serverCancel()
	if err := testutil.WaitForShutdown(serverErr, 30*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown, want false")
	}
	if srv.Orchestrator() != nil {
		t.Error("services should be released after shutdown")
	}
}

func TestServer_DoubleStart(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	srv, cfg := newTestServer(t, backend.URL())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}

	if err := srv.Start(context.Background()); err == nil {
		t.Error("expected error starting a running server")
	}

	cancel()
	if err := testutil.WaitForShutdown(done, 30*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNew_RequiresConfigManager(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without config manager")
	}
}
