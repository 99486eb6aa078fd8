package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/drafts"
	"github.com/jackzampolin/scriptcast/internal/home"
	"github.com/jackzampolin/scriptcast/internal/library"
	"github.com/jackzampolin/scriptcast/internal/narration"
	"github.com/jackzampolin/scriptcast/internal/segment"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
	"github.com/jackzampolin/scriptcast/internal/testutil"
)

type testEnv struct {
	handler http.Handler
	backend *testutil.FakeBackend
	svc     *svcctx.Services
}

func newTestEnv(t *testing.T, gen *drafts.Generator) *testEnv {
	t.Helper()
	logger := testutil.Logger()
	backend := testutil.NewFakeBackend(t)

	client := narration.NewBackendClient(narration.BackendConfig{BaseURL: backend.URL()})
	orch := narration.NewOrchestrator(client, narration.Config{
		DefaultProvider: narration.ProviderFree,
		Segmentation:    segment.Options{Enabled: true, MaxChars: 20},
		RequestDelay:    time.Millisecond,
		MaxRetries:      1,
		RetryDelay:      time.Millisecond,
	}, logger)
	t.Cleanup(orch.Close)

	if gen == nil {
		var err error
		gen, err = drafts.New(drafts.Config{}, logger)
		if err != nil {
			t.Fatalf("drafts.New() error = %v", err)
		}
	}

	dir, _ := home.New(t.TempDir())
	svc := &svcctx.Services{
		Orchestrator: orch,
		Library:      library.New(library.NewMemoryBackend(), logger),
		Drafts:       gen,
		Logger:       logger,
		Home:         dir,
	}

	registry := api.NewRegistry()
	for _, ep := range All() {
		registry.Register(ep)
	}
	mux := http.NewServeMux()
	registry.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), svc)))
	})
	return &testEnv{handler: handler, backend: backend, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSegmentsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantCount int
	}{
		{"default budget", `{"text":"One. Two. Three."}`, http.StatusOK, 1},
		{"small budget", `{"text":"One. Two. Three.","max_chars":5}`, http.StatusOK, 3},
		{"disabled", `{"text":"One. Two. Three.","max_chars":5,"enabled":false}`, http.StatusOK, 1},
		{"oversized word", `{"text":"Supercalifragilistic","max_chars":5}`, http.StatusOK, 1},
		{"negative budget", `{"text":"One.","max_chars":-1}`, http.StatusBadRequest, 0},
		{"unknown field", `{"txt":"One."}`, http.StatusBadRequest, 0},
		{"empty text", `{"text":"   "}`, http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/segments", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			resp := decode[SegmentsResponse](t, rec)
			if len(resp.Segments) != tt.wantCount || resp.Summary.Count != tt.wantCount {
				t.Errorf("expected %d segments, got %+v", tt.wantCount, resp)
			}
		})
	}

	rec := env.do(t, "POST", "/api/segments", `{"text":"Supercalifragilistic","max_chars":5}`)
	resp := decode[SegmentsResponse](t, rec)
	if resp.Summary.Oversized != 1 || resp.Recommended {
		t.Errorf("expected one oversized segment at a non-recommended budget, got %+v", resp)
	}
}

func TestNarrationEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "POST", "/api/narrations", `{"text":"The lamp was dark. Something moved.","voice":{"voice_id":"v1"},"wait":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	snap := decode[narration.Snapshot](t, rec)
	if snap.State != narration.StateCompleted || snap.Total != 2 || snap.Provider != narration.ProviderFree {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	reqs := env.backend.RequestsTo("/api/automations/generate-tts-free")
	if len(reqs) != 2 || reqs[0].Body["voice_id"] != "v1" {
		t.Errorf("unexpected backend requests %+v", reqs)
	}
	if reqs[1].Body["job_id"] != "provider-job-1" {
		t.Errorf("expected provider job id on later requests, got %+v", reqs[1].Body)
	}

	t.Run("get", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/narrations/"+snap.ID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		got := decode[narration.Snapshot](t, rec)
		if len(got.Results) != 2 || got.Results[0].Filename != "seg_1.mp3" {
			t.Errorf("unexpected results %+v", got.Results)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/narrations?state=completed", "")
		list := decode[NarrationListResponse](t, rec)
		if len(list.Jobs) != 1 {
			t.Errorf("expected one completed job, got %d", len(list.Jobs))
		}
		rec = env.do(t, "GET", "/api/narrations?state=failed", "")
		list = decode[NarrationListResponse](t, rec)
		if len(list.Jobs) != 0 {
			t.Errorf("expected no failed jobs, got %d", len(list.Jobs))
		}
	})

	t.Run("cancel finished job", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/narrations/"+snap.ID+"/cancel", "")
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
	})

	t.Run("join", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/narrations/"+snap.ID+"/join", `{"output_name":"episode_1"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		res := decode[narration.JoinResult](t, rec)
		if res.Filename != "episode_1.mp3" {
			t.Errorf("unexpected join result %+v", res)
		}
		joins := env.backend.RequestsTo("/api/automations/join-audio")
		files, _ := joins[0].Body["filenames"].([]any)
		if len(files) != 2 || files[0] != "seg_1.mp3" || files[1] != "seg_2.mp3" {
			t.Errorf("expected segment files in order, got %v", files)
		}
	})

	t.Run("download", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/narrations/"+snap.ID+"/download", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[DownloadNarrationResponse](t, rec)
		if len(resp.Files) != 2 {
			t.Fatalf("expected 2 files, got %+v", resp)
		}
		want := filepath.Join(env.svc.Home.JobAudioDir(snap.ID), "segment_0001.mp3")
		if resp.Files[0] != want {
			t.Errorf("file = %s, want %s", resp.Files[0], want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("downloaded file missing: %v", err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name, method, path, body string
			want                     int
		}{
			{"unknown job", "GET", "/api/narrations/nope", "", http.StatusNotFound},
			{"cancel unknown job", "POST", "/api/narrations/nope/cancel", "", http.StatusNotFound},
			{"unknown provider", "POST", "/api/narrations", `{"text":"Hi.","provider":"robot"}`, http.StatusBadRequest},
			{"no text", "POST", "/api/narrations", `{}`, http.StatusBadRequest},
			{"missing script", "POST", "/api/narrations", `{"script_title":"Nope"}`, http.StatusNotFound},
			{"bad budget", "POST", "/api/narrations", `{"text":"Hi.","segmentation":{"enabled":true,"max_chars":-3}}`, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := env.do(t, tt.method, tt.path, tt.body)
				if rec.Code != tt.want {
					t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
				}
			})
		}
	})
}

func TestNarrationEndpoints_FailedBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.FailAt = 2

	rec := env.do(t, "POST", "/api/narrations", `{"text":"One. Two. Three. Four.","segmentation":{"enabled":true,"max_chars":5},"wait":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	snap := decode[narration.Snapshot](t, rec)
	if snap.State != narration.StateFailed || snap.Completed != 1 || snap.Total != 4 {
		t.Errorf("expected failure after one segment, got %+v", snap)
	}
	if !strings.Contains(snap.Error, "voice quota exceeded") {
		t.Errorf("expected backend error in job, got %q", snap.Error)
	}
	if n := len(env.backend.RequestsTo("/api/automations/generate-tts")); n != 2 {
		t.Errorf("remaining segments should not be sent, backend saw %d", n)
	}
}

func TestNarrationEndpoints_SegmentationOverride(t *testing.T) {
	const text = "One sentence here. Another sentence here. A third one."

	tests := []struct {
		name         string
		segmentation string
		wantTotal    int
	}{
		{"configured budget", ``, 3},
		{"budget only keeps splitting on", `,"segmentation":{"max_chars":50}`, 2},
		{"explicitly disabled", `,"segmentation":{"enabled":false}`, 1},
		{"enabled with budget", `,"segmentation":{"enabled":true,"max_chars":50}`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(t, "POST", "/api/narrations", `{"text":"`+text+`"`+tt.segmentation+`,"wait":true}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			snap := decode[narration.Snapshot](t, rec)
			if snap.Total != tt.wantTotal || snap.State != narration.StateCompleted {
				t.Errorf("expected %d segments, got %+v", tt.wantTotal, snap)
			}
			if n := len(env.backend.RequestsTo("/api/automations/generate-tts")); n != tt.wantTotal {
				t.Errorf("backend saw %d requests, want %d", n, tt.wantTotal)
			}
		})
	}
}

func TestNarrationEndpoints_FromSavedScript(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	err := env.svc.Library.SaveScripts(ctx, []library.Script{{
		Title:    "The Last Lighthouse",
		Chapters: []library.Chapter{{Content: "It began."}, {Content: "It ended."}},
	}})
	if err != nil {
		t.Fatalf("SaveScripts() error = %v", err)
	}

	rec := env.do(t, "POST", "/api/narrations", `{"script_title":"The Last Lighthouse","wait":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	snap := decode[narration.Snapshot](t, rec)
	if snap.Total != 1 || snap.State != narration.StateCompleted {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	reqs := env.backend.RequestsTo("/api/automations/generate-tts")
	if text, _ := reqs[0].Body["text"].(string); text != "It began. It ended." {
		t.Errorf("unexpected segment text %q", text)
	}
}

func TestLibraryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "GET", "/api/library/titles", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "PUT", "/api/library/titles", `[{"text":"Echoes Under Ice","source_video":"https://youtu.be/x"}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}
	titles := decode[[]library.Title](t, rec)
	if len(titles) != 1 || titles[0].CreatedAt.IsZero() {
		t.Errorf("unexpected titles %+v", titles)
	}

	rec = env.do(t, "PUT", "/api/library/premises", `{"not":"a list"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-list body, got %d", rec.Code)
	}

	rec = env.do(t, "PUT", "/api/library/scripts", `[{"title":"T","body":"Once."}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put scripts status = %d", rec.Code)
	}
	rec = env.do(t, "GET", "/api/library/scripts", "")
	scripts := decode[[]library.Script](t, rec)
	if len(scripts) != 1 || scripts[0].Text() != "Once." {
		t.Errorf("unexpected scripts %+v", scripts)
	}
}

func TestAPIKeyEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "PUT", "/api/library/api-keys/elevenlabs", `{"key":"sk-123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}
	masked := decode[library.MaskedKey](t, rec)
	if masked.Key != "*****3456" {
		t.Errorf("expected masked key, got %q", masked.Key)
	}

	rec = env.do(t, "GET", "/api/library/api-keys", "")
	list := decode[APIKeysResponse](t, rec)
	if len(list.Keys) != 1 || list.Keys[0].Provider != "elevenlabs" || strings.Contains(list.Keys[0].Key, "sk-") {
		t.Errorf("unexpected key list %+v", list)
	}

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"empty key", "PUT", "/api/library/api-keys/openai", `{"key":" "}`, http.StatusBadRequest},
		{"bad provider name", "PUT", "/api/library/api-keys/bad%20name", `{"key":"x"}`, http.StatusBadRequest},
		{"delete", "DELETE", "/api/library/api-keys/elevenlabs", "", http.StatusNoContent},
		{"delete again", "DELETE", "/api/library/api-keys/elevenlabs", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

// fakeChat answers every chat completion with reply.
func fakeChat(t *testing.T, reply string) *drafts.Generator {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(server.Close)

	gen, err := drafts.New(drafts.Config{APIKey: "test", BaseURL: server.URL + "/v1/", MaxRetries: 1}, testutil.Logger())
	if err != nil {
		t.Fatalf("drafts.New() error = %v", err)
	}
	return gen
}

func TestDraftEndpoints(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, "POST", "/api/drafts/premise", `{"title":"X"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("titles are saved", func(t *testing.T) {
		env := newTestEnv(t, fakeChat(t, `{"titles":["Salt and Static","Echoes Under Ice"]}`))
		rec := env.do(t, "POST", "/api/drafts/titles", `{"topic":"the sea","count":2}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		saved, _ := env.svc.Library.Titles(context.Background())
		if len(saved) != 2 {
			t.Errorf("expected titles saved, got %+v", saved)
		}

		rec = env.do(t, "POST", "/api/drafts/titles", `{"topic":"the sea","dry_run":true}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		saved, _ = env.svc.Library.Titles(context.Background())
		if len(saved) != 2 {
			t.Errorf("dry run should not save, got %d titles", len(saved))
		}
	})

	t.Run("script uses saved premise", func(t *testing.T) {
		env := newTestEnv(t, fakeChat(t, `{"chapters":[{"title":"One","content":"It began."}]}`))
		ctx := context.Background()
		env.svc.Library.AddPremise(ctx, library.Premise{Title: "T", Text: "A keeper finds a letter."})

		rec := env.do(t, "POST", "/api/drafts/script", `{"title":"T","chapters":1}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		script, err := env.svc.Library.Script(ctx, "T")
		if err != nil {
			t.Fatalf("script not saved: %v", err)
		}
		if script.Premise != "A keeper finds a letter." || script.Text() != "It began." {
			t.Errorf("unexpected script %+v", script)
		}

		rec = env.do(t, "POST", "/api/drafts/script", `{"title":"Unknown"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without a premise, got %d", rec.Code)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, "POST", "/api/narrations", `{"text":"Hello there.","wait":true}`)

	rec := env.do(t, "GET", "/status", "")
	resp := decode[StatusResponse](t, rec)
	if resp.Server != "running" || resp.Jobs["completed"] != 1 {
		t.Errorf("unexpected status %+v", resp)
	}
	if len(resp.Providers) != 3 || resp.Drafts.Enabled {
		t.Errorf("unexpected providers or drafts %+v", resp)
	}
	if resp.Pacer == nil || resp.Pacer.TotalRequests != 1 {
		t.Errorf("expected pacer to count one request, got %+v", resp.Pacer)
	}
	if !resp.Library.OK || resp.Library.Error != "" {
		t.Errorf("expected reachable library, got %+v", resp.Library)
	}
}
