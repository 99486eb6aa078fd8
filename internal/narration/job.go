package narration

import (
	"sync"
	"time"

	"github.com/jackzampolin/scriptcast/internal/segment"
)

// State represents the current state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further work will happen for the job.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// SegmentResult records one synthesized segment.
type SegmentResult struct {
	Index int `json:"index"`
	Chars int `json:"chars"`
	SynthesisResult
}

// Job tracks one script moving through the backend, segment by segment.
type Job struct {
	ID       string
	Provider Provider
	Voice    Voice

	mu            sync.Mutex
	state         State
	segments      []segment.Segment
	results       []SegmentResult
	providerJobID string
	errMsg        string
	createdAt     time.Time
	startedAt     *time.Time
	finishedAt    *time.Time
	cancelled     bool
	stop          chan struct{}
	done          chan struct{}
}

func newJob(id string, provider Provider, voice Voice, segs []segment.Segment) *Job {
	return &Job{
		ID:        id,
		Provider:  provider,
		Voice:     voice,
		state:     StateQueued,
		segments:  segs,
		createdAt: time.Now().UTC(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Snapshot is a point-in-time copy of a job, safe to serialize.
type Snapshot struct {
	ID            string          `json:"id"`
	Provider      Provider        `json:"provider"`
	State         State           `json:"state"`
	Total         int             `json:"total"`
	Completed     int             `json:"completed"`
	ProviderJobID string          `json:"provider_job_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Results       []SegmentResult `json:"results"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Snapshot returns the job's current state including partial results.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	results := make([]SegmentResult, len(j.results))
	copy(results, j.results)

	return Snapshot{
		ID:            j.ID,
		Provider:      j.Provider,
		State:         j.state,
		Total:         len(j.segments),
		Completed:     len(j.results),
		ProviderJobID: j.providerJobID,
		Error:         j.errMsg,
		Results:       results,
		CreatedAt:     j.createdAt,
		StartedAt:     j.startedAt,
		FinishedAt:    j.finishedAt,
	}
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) markRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	now := time.Now().UTC()
	j.state = StateRunning
	j.startedAt = &now
	return true
}

// requestCancel flags the job and reports the state it was in.
func (j *Job) requestCancel() (State, string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := j.state
	if prev.Terminal() || j.cancelled {
		return prev, j.providerJobID
	}
	j.cancelled = true
	close(j.stop)
	return prev, j.providerJobID
}

func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *Job) addResult(seg segment.Segment, res SynthesisResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, SegmentResult{
		Index:           seg.Index,
		Chars:           seg.Len(),
		SynthesisResult: res,
	})
	if j.providerJobID == "" && res.JobID != "" {
		j.providerJobID = res.JobID
	}
}

func (j *Job) currentProviderJobID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.providerJobID
}

// finish moves the job to a terminal state exactly once.
func (j *Job) finish(state State, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.state = state
	j.errMsg = errMsg
	j.finishedAt = &now
	close(j.done)
}

func (j *Job) filenames() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.results))
	for _, r := range j.results {
		names = append(names, r.Filename)
	}
	return names
}
