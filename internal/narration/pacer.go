package narration

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a fixed gap between the end of one request and the start
// of the next. A rate-limit response pushes the next slot further out.
type Pacer struct {
	mu sync.Mutex

	interval time.Duration
	next     time.Time

	// Statistics
	totalRequests int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// PacerStatus reports current pacer state.
type PacerStatus struct {
	Interval      time.Duration `json:"interval"`
	TimeUntilSlot time.Duration `json:"time_until_slot"`
	TotalRequests int64         `json:"total_requests"`
	TotalWaited   time.Duration `json:"total_waited"`
	Last429Time   time.Time     `json:"last_429_time,omitempty"`
}

// NewPacer creates a pacer. A zero interval never waits.
func NewPacer(interval time.Duration) *Pacer {
	if interval < 0 {
		interval = 0
	}
	return &Pacer{interval: interval}
}

// Wait blocks until the next request may start or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	waitTime := time.Until(p.next)
	p.mu.Unlock()

	if waitTime > 0 {
		timer := time.NewTimer(waitTime)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	if waitTime > 0 {
		p.totalWaited += waitTime
	}
	p.totalRequests++
	p.mu.Unlock()
	return nil
}

// Done marks the end of a request and schedules the next slot.
func (p *Pacer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if next := time.Now().Add(p.interval); next.After(p.next) {
		p.next = next
	}
}

// Record429 should be called when a rate-limit response is received.
func (p *Pacer) Record429(retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last429Time = time.Now()
	if next := p.last429Time.Add(retryAfter); next.After(p.next) {
		p.next = next
	}
}

// SetInterval changes the gap for slots scheduled after this call.
func (p *Pacer) SetInterval(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}
	p.mu.Lock()
	p.interval = interval
	p.mu.Unlock()
}

// Status returns current pacer status.
func (p *Pacer) Status() PacerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := time.Until(p.next)
	if until < 0 {
		until = 0
	}
	return PacerStatus{
		Interval:      p.interval,
		TimeUntilSlot: until,
		TotalRequests: p.totalRequests,
		TotalWaited:   p.totalWaited,
		Last429Time:   p.last429Time,
	}
}
