package speech

import (
	"context"
	"sync"
	"sync/atomic"
)

type job struct {
	ctx    context.Context
	audio  []byte
	format Format
	result chan<- jobResult
}

type jobResult struct {
	transcript Transcript
	err        error
}

// PoolStats reports pool activity.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Pool runs transcriptions on a fixed set of workers.
//
// Submissions wait for a free queue slot or for their context to end, so a
// slow engine applies back-pressure instead of spawning unbounded work.
type Pool struct {
	engine  Transcriber
	workers int
	jobs    chan job

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. Workers below 1 become 1; a negative queue size becomes 0.
func NewPool(engine Transcriber, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		engine:  engine,
		workers: workers,
		jobs:    make(chan job, queueSize),
		stopped: make(chan struct{}),
	}
}

// Run starts the workers and blocks until ctx is cancelled. Jobs still queued
// at that point fail with ErrPoolClosed. Run must be called once.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}

	<-ctx.Done()

	// Wake blocked submitters before taking the write lock they hold shared.
	close(p.stopped)
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	wg.Wait()
	p.drain()
	return nil
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			p.execute(j)
		}
	}
}

func (p *Pool) execute(j job) {
	if err := j.ctx.Err(); err != nil {
		j.result <- jobResult{err: err}
		return
	}
	tr, err := p.engine.Transcribe(j.ctx, j.audio, j.format)
	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	j.result <- jobResult{transcript: tr, err: err}
}

func (p *Pool) drain() {
	for {
		select {
		case j := <-p.jobs:
			j.result <- jobResult{err: ErrPoolClosed}
		default:
			return
		}
	}
}

// Transcribe queues the clip and waits for a worker to finish it.
func (p *Pool) Transcribe(ctx context.Context, audio []byte, format Format) (Transcript, error) {
	result := make(chan jobResult, 1)
	j := job{ctx: ctx, audio: audio, format: format, result: result}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Transcript{}, ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return Transcript{}, ctx.Err()
	case <-p.stopped:
		p.mu.RUnlock()
		return Transcript{}, ErrPoolClosed
	}

	select {
	case r := <-result:
		return r.transcript, r.err
	case <-ctx.Done():
		// The worker still delivers into the buffered channel.
		return Transcript{}, ctx.Err()
	}
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Queued:    len(p.jobs),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
