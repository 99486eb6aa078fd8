package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/scriptcast/internal/segment"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("narration job not found")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("narration job already finished")
	// ErrBatchFailed wraps the error that aborted a job.
	ErrBatchFailed = errors.New("narration batch failed")
	// ErrEmptyText is returned when a request has nothing to synthesize.
	ErrEmptyText = errors.New("text is empty")
	// ErrNoAudio is returned when joining or downloading a job with no results.
	ErrNoAudio = errors.New("job has no generated audio")
	// ErrClosed is returned after the orchestrator has been closed.
	ErrClosed = errors.New("orchestrator closed")
)

// Synthesizer is the backend surface the orchestrator depends on.
// *BackendClient implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, provider Provider, req SynthesisRequest) (*SynthesisResult, error)
	CancelJob(ctx context.Context, providerJobID string) error
	JoinAudio(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Fetch(ctx context.Context, audioURL string) (io.ReadCloser, error)
}

// Config holds orchestrator settings.
type Config struct {
	DefaultProvider Provider
	Voices          map[Provider]Voice
	Segmentation    segment.Options
	RequestDelay    time.Duration // pause between consecutive segment requests
	MaxRetries      int           // retries per segment on rate-limit responses
	RetryDelay      time.Duration // used when the backend sends no Retry-After
}

// DefaultConfig returns the settings the panel uses out of the box.
func DefaultConfig() Config {
	return Config{
		DefaultProvider: ProviderElevenLabs,
		Segmentation:    segment.Options{Enabled: true, MaxChars: segment.DefaultBudget},
		RequestDelay:    time.Second,
		MaxRetries:      3,
		RetryDelay:      5 * time.Second,
	}
}

// Request describes a narration job.
type Request struct {
	Text     string
	Provider Provider // empty = Config.DefaultProvider
	Voice    Voice    // overrides the configured voice field by field
	// Segmentation overrides Config.Segmentation field by field when set.
	Segmentation *SegmentOverride
}

// SegmentOverride adjusts the configured segmentation for one request.
// Unset fields keep the configured value.
type SegmentOverride struct {
	Enabled  *bool `json:"enabled,omitempty"`
	MaxChars int   `json:"max_chars,omitempty"`
}

// Apply returns base with the set fields of o replaced.
func (o *SegmentOverride) Apply(base segment.Options) segment.Options {
	if o == nil {
		return base
	}
	if o.Enabled != nil {
		base.Enabled = *o.Enabled
	}
	if o.MaxChars != 0 {
		base.MaxChars = o.MaxChars
	}
	return base
}

// Orchestrator runs narration jobs on a single worker so that exactly one
// backend request is in flight at a time.
type Orchestrator struct {
	synth  Synthesizer
	pacer  *Pacer
	logger *slog.Logger

	mu      sync.RWMutex
	cfg     Config
	jobs    map[string]*Job
	pending []*Job
	closed  bool

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	startOne sync.Once
	wg       sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. The worker starts with the first job.
func NewOrchestrator(synth Synthesizer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = ProviderElevenLabs
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		synth:  synth,
		pacer:  NewPacer(cfg.RequestDelay),
		logger: logger.With("component", "narration"),
		cfg:    cfg,
		jobs:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// UpdateConfig swaps voice, segmentation and retry settings for jobs started
// later. The new request delay applies from the next scheduled slot.
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = o.cfg.DefaultProvider
	}
	o.cfg = cfg
	o.pacer.SetInterval(cfg.RequestDelay)
}

// Prepare segments a request without submitting it.
func (o *Orchestrator) Prepare(req Request) (Provider, Voice, []segment.Segment, error) {
	o.mu.RLock()
	cfg := o.cfg
	o.mu.RUnlock()

	provider := req.Provider
	if provider == "" {
		provider = cfg.DefaultProvider
	}
	provider, err := ParseProvider(string(provider))
	if err != nil {
		return "", Voice{}, nil, err
	}

	opts := req.Segmentation.Apply(cfg.Segmentation)
	segs, err := segment.Plan(req.Text, opts)
	if err != nil {
		return "", Voice{}, nil, err
	}
	if len(segs) == 0 {
		return "", Voice{}, nil, ErrEmptyText
	}

	return provider, cfg.Voices[provider].merge(req.Voice), segs, nil
}

// Start segments the request text and queues a job for it.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	provider, voice, segs, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}

	job := newJob(uuid.New().String(), provider, voice, segs)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.jobs[job.ID] = job
	o.pending = append(o.pending, job)
	o.mu.Unlock()

	o.startOne.Do(func() {
		o.wg.Add(1)
		go o.work()
	})
	select {
	case o.wake <- struct{}{}:
	default:
	}

	o.logger.Info("narration job queued",
		"job_id", job.ID,
		"provider", provider,
		"segments", len(segs))
	return job, nil
}

// Get returns a job by ID.
func (o *Orchestrator) Get(id string) (*Job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// List returns snapshots of all jobs, newest first.
func (o *Orchestrator) List() []Snapshot {
	o.mu.RLock()
	out := make([]Snapshot, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job.Snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Cancel stops a job before its next segment. A queued job is cancelled
// immediately. For a running job the in-flight request is allowed to finish,
// and the provider-side job, if one was reported, gets a best-effort cancel.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (Snapshot, error) {
	job, err := o.Get(id)
	if err != nil {
		return Snapshot{}, err
	}

	prev, providerJobID := job.requestCancel()
	switch {
	case prev.Terminal():
		return job.Snapshot(), fmt.Errorf("%w: %s is %s", ErrJobFinished, id, prev)
	case prev == StateQueued:
		job.finish(StateCancelled, "cancelled before start")
	}

	if providerJobID != "" {
		if err := o.synth.CancelJob(ctx, providerJobID); err != nil {
			o.logger.Warn("backend cancel failed",
				"job_id", id,
				"provider_job_id", providerJobID,
				"error", err)
		}
	}

	o.logger.Info("narration job cancel requested", "job_id", id, "state", prev)
	return job.Snapshot(), nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Snapshot, error) {
	job, err := o.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-job.Done():
		return job.Snapshot(), nil
	case <-ctx.Done():
		return job.Snapshot(), ctx.Err()
	}
}

// Join asks the backend to concatenate the job's generated segments, in
// order. Partial results of failed or cancelled jobs can be joined too.
func (o *Orchestrator) Join(ctx context.Context, id, outputName string) (*JoinResult, error) {
	job, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	names := job.filenames()
	if len(names) == 0 {
		return nil, ErrNoAudio
	}
	if outputName == "" {
		outputName = "narration_" + id
	}
	return o.synth.JoinAudio(ctx, JoinRequest{Filenames: names, OutputName: outputName})
}

// PacerStatus reports the shared request pacer.
func (o *Orchestrator) PacerStatus() PacerStatus {
	return o.pacer.Status()
}

// Close stops the worker. Queued jobs are cancelled and a running job fails
// with its in-flight request aborted.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, job := range pending {
		job.requestCancel()
		job.finish(StateCancelled, "orchestrator closed")
	}
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) work() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.wake:
		}
		for {
			job := o.dequeue()
			if job == nil {
				break
			}
			o.run(o.ctx, job)
		}
	}
}

func (o *Orchestrator) dequeue() *Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return nil
	}
	job := o.pending[0]
	o.pending = o.pending[1:]
	return job
}

func (o *Orchestrator) run(ctx context.Context, job *Job) {
	if !job.markRunning() {
		return
	}

	// stopCtx interrupts pacing and retry waits; the in-flight request
	// itself only observes ctx.
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-job.stop:
			stop()
		case <-stopCtx.Done():
		}
	}()

	logger := o.logger.With("job_id", job.ID, "provider", job.Provider)
	logger.Info("narration job started", "segments", len(job.segments))
	start := time.Now()

	for _, seg := range job.segments {
		if job.cancelRequested() {
			job.finish(StateCancelled, "")
			logger.Info("narration job cancelled", "completed", seg.Index-1)
			return
		}
		if err := o.pacer.Wait(stopCtx); err != nil {
			o.finishInterrupted(job, logger, err)
			return
		}

		res, err := o.synthesize(ctx, stopCtx, job, seg)
		o.pacer.Done()
		if err != nil {
			if job.cancelRequested() || ctx.Err() != nil {
				o.finishInterrupted(job, logger, err)
				return
			}
			err = fmt.Errorf("%w: segment %d of %d: %w", ErrBatchFailed, seg.Index, len(job.segments), err)
			job.finish(StateFailed, err.Error())
			logger.Error("narration job failed", "segment", seg.Index, "error", err)
			return
		}

		job.addResult(seg, *res)
		logger.Debug("segment synthesized",
			"segment", seg.Index,
			"chars", seg.Len(),
			"filename", res.Filename)
	}

	job.finish(StateCompleted, "")
	logger.Info("narration job completed",
		"segments", len(job.segments),
		"duration", time.Since(start))
}

func (o *Orchestrator) finishInterrupted(job *Job, logger *slog.Logger, err error) {
	if job.cancelRequested() {
		job.finish(StateCancelled, "")
		logger.Info("narration job cancelled")
		return
	}
	job.finish(StateFailed, err.Error())
	logger.Warn("narration job interrupted", "error", err)
}

// synthesize sends one segment, retrying only rate-limit responses.
func (o *Orchestrator) synthesize(ctx, stopCtx context.Context, job *Job, seg segment.Segment) (*SynthesisResult, error) {
	o.mu.RLock()
	maxRetries, retryDelay := o.cfg.MaxRetries, o.cfg.RetryDelay
	o.mu.RUnlock()
	if maxRetries < 0 {
		maxRetries = 0
	}

	req := SynthesisRequest{
		Text:  seg.Text,
		Voice: job.Voice,
		JobID: job.currentProviderJobID(),
	}

	var result *SynthesisResult
	err := retry.Do(
		func() error {
			res, err := o.synth.Synthesize(ctx, job.Provider, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		},
		retry.Context(stopCtx),
		retry.Attempts(uint(maxRetries)+1),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			_, ok := IsRateLimitError(err)
			return ok
		}),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			if rle, ok := IsRateLimitError(err); ok && rle.RetryAfter > 0 {
				return rle.RetryAfter
			}
			return retry.FixedDelay(n, err, config)
		}),
		retry.OnRetry(func(n uint, err error) {
			rle, _ := IsRateLimitError(err)
			if rle != nil {
				o.pacer.Record429(rle.RetryAfter)
			}
			o.logger.Warn("segment rate limited, retrying",
				"job_id", job.ID,
				"segment", seg.Index,
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
