// Package sched runs periodic in-process jobs.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a named periodic task. Run receives a context bounded by Timeout.
type Job struct {
	Name    string
	Every   time.Duration
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Runner executes registered jobs on their intervals until stopped. A
// failing or panicking job is logged and retried on its next tick.
type Runner struct {
	jobs []Job

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewRunner creates a runner for the given jobs.
func NewRunner(jobs ...Job) *Runner {
	return &Runner{jobs: jobs}
}

// Start launches one goroutine per job. Each job also runs once at startup.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.stopped = make(chan struct{})

	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}

	stopped := r.stopped
	go func() {
		wg.Wait()
		close(stopped)
	}()
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	r.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := runGuarded(ctx, job)
	if err != nil {
		slog.Error("scheduled job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return
	}
	slog.Debug("scheduled job finished", "job", job.Name, "duration", time.Since(start))
}

func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return job.Run(ctx)
}
