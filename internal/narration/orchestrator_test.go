package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/scriptcast/internal/segment"
)

// fakeSynth records calls and answers through respond.
type fakeSynth struct {
	mu          sync.Mutex
	requests    []SynthesisRequest
	providers   []Provider
	starts      []time.Time
	inFlight    int
	maxInFlight int
	cancelled   []string
	joined      []JoinRequest

	// respond is called with the 1-based call number.
	respond func(n int, req SynthesisRequest) (*SynthesisResult, error)
}

func (f *fakeSynth) Synthesize(ctx context.Context, provider Provider, req SynthesisRequest) (*SynthesisResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.providers = append(f.providers, provider)
	f.starts = append(f.starts, time.Now())
	n := len(f.requests)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	respond := f.respond
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if respond == nil {
		return okResult(n), nil
	}
	return respond(n, req)
}

func (f *fakeSynth) CancelJob(ctx context.Context, providerJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, providerJobID)
	return nil
}

func (f *fakeSynth) JoinAudio(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, req)
	return &JoinResult{Filename: req.OutputName + ".mp3"}, nil
}

func (f *fakeSynth) Fetch(ctx context.Context, audioURL string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio:" + audioURL)), nil
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func okResult(n int) *SynthesisResult {
	return &SynthesisResult{
		Filename: fmt.Sprintf("seg_%d.wav", n),
		AudioURL: fmt.Sprintf("/audio/seg_%d.wav", n),
		Duration: 1.5,
		Size:     1024,
	}
}

func newTestOrchestrator(t *testing.T, synth Synthesizer, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		DefaultProvider: ProviderElevenLabs,
		Voices: map[Provider]Voice{
			ProviderElevenLabs: {VoiceID: "rachel", Stability: 0.5},
		},
		Segmentation: segment.Options{Enabled: true, MaxChars: 5},
		RequestDelay: 5 * time.Millisecond,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o := NewOrchestrator(synth, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(o.Close)
	return o
}

func waitJob(t *testing.T, o *Orchestrator, id string) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v (state %s)", err, snap.State)
	}
	return snap
}

// threeSegments splits into "One.", "Two.", "Three" at a budget of 5.
const threeSegments = "One. Two. Three."

func TestOrchestrator_Sequential(t *testing.T) {
	synth := &fakeSynth{}
	o := newTestOrchestrator(t, synth, func(c *Config) { c.RequestDelay = 30 * time.Millisecond })

	job, err := o.Start(context.Background(), Request{Text: threeSegments})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := waitJob(t, o, job.ID)

	if snap.State != StateCompleted {
		t.Fatalf("expected completed, got %s (%s)", snap.State, snap.Error)
	}
	if snap.Total != 3 || snap.Completed != 3 {
		t.Fatalf("expected 3/3 segments, got %d/%d", snap.Completed, snap.Total)
	}

	synth.mu.Lock()
	defer synth.mu.Unlock()

	if synth.maxInFlight != 1 {
		t.Errorf("expected one request in flight, saw %d", synth.maxInFlight)
	}
	wantTexts := []string{"One.", "Two.", "Three"}
	for i, req := range synth.requests {
		if req.Text != wantTexts[i] {
			t.Errorf("request %d text = %q, want %q", i, req.Text, wantTexts[i])
		}
		if req.VoiceID != "rachel" {
			t.Errorf("request %d missing configured voice", i)
		}
	}
	for i := 1; i < len(synth.starts); i++ {
		if gap := synth.starts[i].Sub(synth.starts[i-1]); gap < 30*time.Millisecond {
			t.Errorf("gap between request %d and %d was %v, want >= 30ms", i, i+1, gap)
		}
	}
	for i, res := range snap.Results {
		if res.Index != i+1 {
			t.Errorf("result %d has index %d", i, res.Index)
		}
	}
}

func TestOrchestrator_FailureAbortsBatch(t *testing.T) {
	synth := &fakeSynth{
		respond: func(n int, req SynthesisRequest) (*SynthesisResult, error) {
			if n == 2 {
				return nil, &BackendError{StatusCode: 200, Message: "voice not found"}
			}
			return okResult(n), nil
		},
	}
	o := newTestOrchestrator(t, synth, nil)

	job, err := o.Start(context.Background(), Request{Text: threeSegments})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := waitJob(t, o, job.ID)

	if snap.State != StateFailed {
		t.Fatalf("expected failed, got %s", snap.State)
	}
	if synth.calls() != 2 {
		t.Errorf("expected remaining segments to be skipped, got %d calls", synth.calls())
	}
	if len(snap.Results) != 1 || snap.Results[0].Filename != "seg_1.wav" {
		t.Errorf("expected partial result to be kept, got %+v", snap.Results)
	}
	if !strings.Contains(snap.Error, "voice not found") || !strings.Contains(snap.Error, "segment 2 of 3") {
		t.Errorf("unexpected error %q", snap.Error)
	}
}

func TestOrchestrator_RateLimitRetry(t *testing.T) {
	synth := &fakeSynth{
		respond: func(n int, req SynthesisRequest) (*SynthesisResult, error) {
			if n == 1 {
				return nil, &RateLimitError{Message: "slow down", RetryAfter: 10 * time.Millisecond, StatusCode: 429}
			}
			return okResult(n), nil
		},
	}
	o := newTestOrchestrator(t, synth, nil)

	job, err := o.Start(context.Background(), Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := waitJob(t, o, job.ID)

	if snap.State != StateCompleted {
		t.Fatalf("expected completed after retry, got %s (%s)", snap.State, snap.Error)
	}
	if synth.calls() != 2 {
		t.Errorf("expected 2 calls, got %d", synth.calls())
	}
	if o.PacerStatus().Last429Time.IsZero() {
		t.Error("expected pacer to record the 429")
	}
}

func TestOrchestrator_RateLimitExhausted(t *testing.T) {
	synth := &fakeSynth{
		respond: func(n int, req SynthesisRequest) (*SynthesisResult, error) {
			return nil, &RateLimitError{Message: "slow down", StatusCode: 429}
		},
	}
	o := newTestOrchestrator(t, synth, func(c *Config) { c.MaxRetries = 1 })

	job, err := o.Start(context.Background(), Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := waitJob(t, o, job.ID)

	if snap.State != StateFailed {
		t.Fatalf("expected failed, got %s", snap.State)
	}
	if synth.calls() != 2 {
		t.Errorf("expected 1 attempt + 1 retry, got %d calls", synth.calls())
	}
}

func TestOrchestrator_CancelRunning(t *testing.T) {
	entered := make(chan int, 10)
	release := make(chan struct{})
	synth := &fakeSynth{
		respond: func(n int, req SynthesisRequest) (*SynthesisResult, error) {
			entered <- n
			res := okResult(n)
			if n == 1 {
				res.JobID = "prov-1"
				return res, nil
			}
			<-release
			return res, nil
		},
	}
	o := newTestOrchestrator(t, synth, nil)

	job, err := o.Start(context.Background(), Request{Text: threeSegments})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	<-entered
	<-entered // second request is now blocked in flight

	snap, err := o.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if snap.State != StateRunning {
		t.Errorf("expected running while in flight, got %s", snap.State)
	}
	close(release)

	snap = waitJob(t, o, job.ID)
	if snap.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", snap.State)
	}
	if synth.calls() != 2 {
		t.Errorf("expected no request after cancel, got %d calls", synth.calls())
	}
	if len(snap.Results) != 2 {
		t.Errorf("expected in-flight result to be retained, got %d results", len(snap.Results))
	}
	if snap.ProviderJobID != "prov-1" {
		t.Errorf("expected provider job id prov-1, got %q", snap.ProviderJobID)
	}

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if len(synth.cancelled) != 1 || synth.cancelled[0] != "prov-1" {
		t.Errorf("expected backend cancel for prov-1, got %v", synth.cancelled)
	}
	if synth.requests[1].JobID != "prov-1" {
		t.Errorf("expected later requests to carry job id, got %q", synth.requests[1].JobID)
	}
}

func TestOrchestrator_CancelQueued(t *testing.T) {
	entered := make(chan int, 10)
	release := make(chan struct{})
	synth := &fakeSynth{
		respond: func(n int, req SynthesisRequest) (*SynthesisResult, error) {
			entered <- n
			if n == 1 {
				<-release
			}
			return okResult(n), nil
		},
	}
	o := newTestOrchestrator(t, synth, nil)
	ctx := context.Background()

	first, err := o.Start(ctx, Request{Text: "First."})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-entered

	second, err := o.Start(ctx, Request{Text: "Second."})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if second.State() != StateQueued {
		t.Fatalf("expected second job queued, got %s", second.State())
	}

	snap, err := o.Cancel(ctx, second.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if snap.State != StateCancelled {
		t.Fatalf("expected queued job to cancel immediately, got %s", snap.State)
	}

	close(release)
	if s := waitJob(t, o, first.ID); s.State != StateCompleted {
		t.Fatalf("expected first job completed, got %s", s.State)
	}
	if synth.calls() != 1 {
		t.Errorf("cancelled job should never reach the backend, got %d calls", synth.calls())
	}

	if _, err := o.Cancel(ctx, first.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("expected ErrJobFinished, got %v", err)
	}
}

func TestOrchestrator_StartErrors(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSynth{}, nil)
	ctx := context.Background()

	if _, err := o.Start(ctx, Request{Text: "  ...  "}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if _, err := o.Start(ctx, Request{Text: "Hi.", Provider: "polly"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
	bad := SegmentOverride{MaxChars: -1}
	if _, err := o.Start(ctx, Request{Text: "Hi.", Segmentation: &bad}); !errors.Is(err, segment.ErrInvalidBudget) {
		t.Errorf("expected ErrInvalidBudget, got %v", err)
	}
	if _, err := o.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestOrchestrator_SegmentationDisabled(t *testing.T) {
	synth := &fakeSynth{}
	o := newTestOrchestrator(t, synth, nil)

	disabled := false
	off := SegmentOverride{Enabled: &disabled}
	job, err := o.Start(context.Background(), Request{
		Text:         threeSegments,
		Provider:     ProviderLocal,
		Voice:        Voice{Speed: 1.2},
		Segmentation: &off,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitJob(t, o, job.ID)

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if len(synth.requests) != 1 || synth.requests[0].Text != threeSegments {
		t.Fatalf("expected whole text in one request, got %+v", synth.requests)
	}
	if synth.providers[0] != ProviderLocal || synth.requests[0].Speed != 1.2 {
		t.Errorf("expected local provider with request voice, got %s %+v", synth.providers[0], synth.requests[0].Voice)
	}
}

func TestOrchestrator_JoinAndDownload(t *testing.T) {
	synth := &fakeSynth{}
	o := newTestOrchestrator(t, synth, nil)
	ctx := context.Background()

	job, err := o.Start(ctx, Request{Text: threeSegments})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitJob(t, o, job.ID)

	joined, err := o.Join(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if joined.Filename != "narration_"+job.ID+".mp3" {
		t.Errorf("unexpected joined filename %s", joined.Filename)
	}
	synth.mu.Lock()
	names := synth.joined[0].Filenames
	synth.mu.Unlock()
	if strings.Join(names, ",") != "seg_1.wav,seg_2.wav,seg_3.wav" {
		t.Errorf("expected filenames in segment order, got %v", names)
	}

	dir := t.TempDir()
	paths, err := o.Download(ctx, job.ID, dir)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 files, got %d", len(paths))
	}
	want := filepath.Join(dir, job.ID, "segment_0002.wav")
	if paths[1] != want {
		t.Errorf("expected %s, got %s", want, paths[1])
	}
	data, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(data) != "audio:/audio/seg_2.wav" {
		t.Errorf("unexpected file content %q", data)
	}
}

func TestOrchestrator_JoinWithoutAudio(t *testing.T) {
	synth := &fakeSynth{
		respond: func(n int, req SynthesisRequest) (*SynthesisResult, error) {
			return nil, &BackendError{Message: "down"}
		},
	}
	o := newTestOrchestrator(t, synth, nil)

	job, err := o.Start(context.Background(), Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitJob(t, o, job.ID)

	if _, err := o.Join(context.Background(), job.ID, ""); !errors.Is(err, ErrNoAudio) {
		t.Errorf("expected ErrNoAudio, got %v", err)
	}
	if _, err := o.Download(context.Background(), job.ID, t.TempDir()); !errors.Is(err, ErrNoAudio) {
		t.Errorf("expected ErrNoAudio, got %v", err)
	}
}

func TestOrchestrator_List(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSynth{}, nil)
	ctx := context.Background()

	a, _ := o.Start(ctx, Request{Text: "A."})
	time.Sleep(2 * time.Millisecond)
	b, _ := o.Start(ctx, Request{Text: "B."})
	waitJob(t, o, a.ID)
	waitJob(t, o, b.ID)

	list := o.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != b.ID {
		t.Errorf("expected newest job first")
	}
}

func TestPacer(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Error("first request should not wait")
	}
	p.Done()

	if err := p.Wait(ctx); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected >= 20ms gap, got %v", elapsed)
	}
	p.Done()

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.Wait(cctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if st := p.Status(); st.TotalRequests != 2 {
		t.Errorf("expected 2 requests, got %d", st.TotalRequests)
	}
}

func TestOrchestrator_UpdateConfig(t *testing.T) {
	synth := &fakeSynth{}
	o := newTestOrchestrator(t, synth, nil)

	o.UpdateConfig(Config{
		Voices:       map[Provider]Voice{ProviderElevenLabs: {VoiceID: "adam"}},
		Segmentation: segment.Options{Enabled: false},
		RequestDelay: 30 * time.Millisecond,
	})

	provider, voice, segs, err := o.Prepare(Request{Text: threeSegments})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if provider != ProviderElevenLabs {
		t.Errorf("default provider should be kept, got %q", provider)
	}
	if voice.VoiceID != "adam" {
		t.Errorf("voice = %+v, want adam", voice)
	}
	if len(segs) != 1 {
		t.Errorf("expected segmentation off after update, got %d segments", len(segs))
	}
	if got := o.PacerStatus().Interval; got != 30*time.Millisecond {
		t.Errorf("pacer interval = %v, want 30ms", got)
	}
}

func TestSegmentOverride_Apply(t *testing.T) {
	base := segment.Options{Enabled: true, MaxChars: 4000}
	on, off := true, false

	tests := []struct {
		name     string
		override *SegmentOverride
		want     segment.Options
	}{
		{"nil keeps config", nil, base},
		{"budget only", &SegmentOverride{MaxChars: 2000}, segment.Options{Enabled: true, MaxChars: 2000}},
		{"disable", &SegmentOverride{Enabled: &off}, segment.Options{Enabled: false, MaxChars: 4000}},
		{"enable with budget", &SegmentOverride{Enabled: &on, MaxChars: 3000}, segment.Options{Enabled: true, MaxChars: 3000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.override.Apply(base); got != tt.want {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
