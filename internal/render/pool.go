package render

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pool caps concurrent renderer invocations with a fixed set of workers
// and bounds each invocation with a timeout, so a hung renderer cannot
// block a tile key indefinitely.
type Pool struct {
	renderer Renderer
	jobs     chan poolJob
	timeout  time.Duration

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type poolJob struct {
	ctx context.Context
	job Job
	res chan error
}

func NewPool(renderer Renderer, workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		renderer: renderer,
		jobs:     make(chan poolJob, workers),
		timeout:  timeout,
		done:     make(chan struct{}),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case pj := <-p.jobs:
			pj.res <- p.renderOne(pj.ctx, pj.job)
		}
	}
}

func (p *Pool) renderOne(ctx context.Context, job Job) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.renderer.Render(ctx, job)
}

// Render queues the job and waits for its completion signal.
func (p *Pool) Render(ctx context.Context, job Job) error {
	pj := poolJob{ctx: ctx, job: job, res: make(chan error, 1)}
	select {
	case p.jobs <- pj:
	case <-p.done:
		return fmt.Errorf("render pool closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-pj.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers. Queued jobs that no worker picked up are
// abandoned; their callers get a closed-pool error.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}
