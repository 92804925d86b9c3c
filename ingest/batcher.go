package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"guardian/metrics"

	"go.uber.org/zap"
)

// Submitter accepts a raw log for the pipeline. *pipeline.Orchestrator
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, rawLog, source string) (string, error)
}

type batchKey struct {
	host string
	app  string
}

type batch struct {
	source  string
	lines   []string
	size    int
	started time.Time
}

// Batcher groups lines by host and program and submits each group once it
// is window old or holds maxLines lines.
type Batcher struct {
	submitter Submitter
	window    time.Duration
	maxLines  int
	maxBytes  int
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	batches map[batchKey]*batch
}

// NewBatcher creates a batcher. A zero window submits every line on its own.
func NewBatcher(submitter Submitter, window time.Duration, maxLines, maxBytes int, logger *zap.SugaredLogger) *Batcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxLines < 1 {
		maxLines = 1
	}
	if maxBytes < 1 {
		maxBytes = MaxLineLength
	}
	return &Batcher{
		submitter: submitter,
		window:    window,
		maxLines:  maxLines,
		maxBytes:  maxBytes,
		logger:    logger,
		batches:   make(map[batchKey]*batch),
	}
}

// Add queues a message, submitting its batch right away when it is full.
func (b *Batcher) Add(ctx context.Context, msg Message) {
	if b.window <= 0 {
		b.submit(ctx, &batch{source: msg.Source(), lines: []string{msg.Line}})
		return
	}

	key := batchKey{host: msg.Hostname, app: msg.AppName}
	var ready []*batch

	b.mu.Lock()
	cur, ok := b.batches[key]
	// a line that would overflow the byte budget starts a new batch
	if ok && cur.size+len(msg.Line)+1 > b.maxBytes {
		ready = append(ready, cur)
		ok = false
	}
	if !ok {
		cur = &batch{source: msg.Source(), started: time.Now()}
		b.batches[key] = cur
	}
	cur.lines = append(cur.lines, msg.Line)
	cur.size += len(msg.Line) + 1
	if len(cur.lines) >= b.maxLines {
		ready = append(ready, cur)
		delete(b.batches, key)
	}
	b.mu.Unlock()

	for _, r := range ready {
		b.submit(ctx, r)
	}
}

// Run flushes expired batches until ctx is done, then flushes the rest
// with flushCtx.
func (b *Batcher) Run(ctx context.Context, flushCtx context.Context) {
	if b.window <= 0 {
		<-ctx.Done()
		return
	}
	tick := b.window / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(flushCtx, time.Time{})
			return
		case now := <-ticker.C:
			b.flush(ctx, now.Add(-b.window))
		}
	}
}

// flush submits batches started before cutoff, or all of them when cutoff is zero.
func (b *Batcher) flush(ctx context.Context, cutoff time.Time) {
	var ready []*batch
	b.mu.Lock()
	for key, cur := range b.batches {
		if cutoff.IsZero() || !cur.started.After(cutoff) {
			ready = append(ready, cur)
			delete(b.batches, key)
		}
	}
	b.mu.Unlock()

	for _, cur := range ready {
		b.submit(ctx, cur)
	}
}

// Pending returns the number of open batches.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *Batcher) submit(ctx context.Context, cur *batch) {
	rawLog := strings.Join(cur.lines, "\n")
	id, err := b.submitter.Submit(ctx, rawLog, cur.source)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("batch", "submit_failed").Inc()
		b.logger.Warnw("Failed to submit syslog batch", "source", cur.source, "lines", len(cur.lines), "error", err)
		return
	}
	metrics.IngestMessages.WithLabelValues("batch", "submitted").Inc()
	b.logger.Debugw("Syslog batch submitted", "incident_id", id, "source", cur.source, "lines", len(cur.lines))
}
