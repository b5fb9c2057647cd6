package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/d9705996/ama/internal/store"
)

// Pool errors.
var (
	ErrQueueFull    = errors.New("embedding queue is full")
	ErrQueueStopped = errors.New("embedding queue is stopped")
)

// PoolConfig tunes a Pool.
type PoolConfig struct {
	Concurrency int
	Buffer      int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

// Pool is an in-process job queue used with SQLite.
type Pool struct {
	proc Processor
	cfg  PoolConfig
	log  *slog.Logger

	mu      sync.Mutex
	jobs    chan string
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a Pool. Call Start before enqueueing.
func NewPool(proc Processor, cfg PoolConfig, log *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Pool{proc: proc, cfg: cfg, log: log, jobs: make(chan string, cfg.Buffer)}
}

// Start launches the worker goroutines. Jobs keep running after ctx is
// cancelled until Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	for range p.cfg.Concurrency {
		p.wg.Add(1)
		go p.run(runCtx)
	}
	p.log.Info("embedding worker pool started", "concurrency", p.cfg.Concurrency)
	return nil
}

// Stop stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, in-flight jobs are cancelled and the rest dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// EnqueueEmbedding queues a question without blocking.
func (p *Pool) EnqueueEmbedding(_ context.Context, questionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrQueueStopped
	}
	select {
	case p.jobs <- questionID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for id := range p.jobs {
		if ctx.Err() != nil {
			continue
		}
		p.process(ctx, id)
	}
}

func (p *Pool) process(ctx context.Context, questionID string) {
	delay := p.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err := p.proc.Process(ctx, questionID)
		if err == nil {
			return
		}
		if errors.Is(err, store.ErrNotFound) || attempt >= maxAttempts {
			p.log.Error("embedding job failed",
				"question_id", questionID, "attempt", attempt, "err", err)
			return
		}
		p.log.Warn("embedding job failed, retrying",
			"question_id", questionID, "attempt", attempt, "retry_in", delay, "err", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay *= 2
	}
}
