// Package usage accumulates per-org consumption counters and flushes
// them to the database in batches.
package usage

import (
	"context"
	"sync"
	"time"

	"fragmentforge/internal/logging"
	"fragmentforge/internal/store"

	"go.uber.org/zap"
)

// Recorder is the store surface the tracker writes through.
type Recorder interface {
	AddUsage(ctx context.Context, orgID string, aiRequests, aiTokens, runs int64) error
}

var _ Recorder = (*store.Store)(nil)

type counters struct {
	aiRequests int64
	aiTokens   int64
	runs       int64
}

// Tracker batches usage counters in memory; a background loop flushes
// them so the inference hot path never waits on the database.
type Tracker struct {
	recorder Recorder

	mu      sync.Mutex
	pending map[string]*counters

	flushEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewTracker starts a tracker flushing every 30 seconds.
func NewTracker(recorder Recorder) *Tracker {
	t := &Tracker{
		recorder:   recorder,
		pending:    make(map[string]*counters),
		flushEvery: 30 * time.Second,
		stop:       make(chan struct{}),
	}
	go t.flushLoop()
	return t
}

// RecordAIRequest counts one model call and its tokens for the org.
func (t *Tracker) RecordAIRequest(orgID string, tokens int) {
	t.RecordAIUsage(orgID, 1, int64(tokens))
}

// RecordAIUsage counts a whole run's worth of model calls at once.
func (t *Tracker) RecordAIUsage(orgID string, requests, tokens int64) {
	if requests == 0 && tokens == 0 {
		return
	}
	t.add(orgID, func(c *counters) {
		c.aiRequests += requests
		c.aiTokens += tokens
	})
}

// RecordRun counts one completed workflow run for the org.
func (t *Tracker) RecordRun(orgID string) {
	t.add(orgID, func(c *counters) {
		c.runs++
	})
}

func (t *Tracker) add(orgID string, apply func(*counters)) {
	if orgID == "" {
		return
	}
	t.mu.Lock()
	c, ok := t.pending[orgID]
	if !ok {
		c = &counters{}
		t.pending[orgID] = c
	}
	apply(c)
	t.mu.Unlock()
}

// Flush writes all pending counters through the recorder. Failed batches
// are re-queued for the next flush.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[string]*counters)
	t.mu.Unlock()

	for orgID, c := range batch {
		if err := t.recorder.AddUsage(ctx, orgID, c.aiRequests, c.aiTokens, c.runs); err != nil {
			logging.L().Error("usage flush failed, re-queueing",
				zap.String("orgId", orgID), zap.Error(err))
			t.add(orgID, func(p *counters) {
				p.aiRequests += c.aiRequests
				p.aiTokens += c.aiTokens
				p.runs += c.runs
			})
		}
	}
}

// Close flushes once more and stops the background loop.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Flush(ctx)
}

func (t *Tracker) flushLoop() {
	ticker := time.NewTicker(t.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			t.Flush(ctx)
			cancel()
		}
	}
}
