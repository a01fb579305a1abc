package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handler processes a claimed task's payload. A nil return marks the task
// done; an error reschedules it with backoff until attempts run out.
type Handler func(ctx context.Context, payload []byte) error

// TaskSource is the interface the worker drains tasks from. It exists to
// allow testing without a real database.
type TaskSource interface {
	Claim(ctx context.Context, limit int) ([]Task, error)
	MarkDone(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, runAt time.Time, lastError string) error
	MarkDead(ctx context.Context, id int64, lastError string) error
}

// Worker polls the outbox for due tasks and dispatches them to registered
// handlers. Delivery is at-least-once; handlers must tolerate replays.
type Worker struct {
	source      TaskSource
	handlers    map[string]Handler
	pollEvery   time.Duration
	batchSize   int
	maxAttempts int
	taskTimeout time.Duration
	done        chan struct{}

	// Observe, when set, is called after each processed task with its kind,
	// outcome ("done", "retried" or "dead") and run duration.
	Observe func(kind, outcome string, duration time.Duration)
}

// NewWorker creates a Worker that polls source every pollEvery, claiming up
// to batchSize tasks per poll and giving each task maxAttempts tries.
func NewWorker(source TaskSource, pollEvery time.Duration, batchSize, maxAttempts int) *Worker {
	return &Worker{
		source:      source,
		handlers:    make(map[string]Handler),
		pollEvery:   pollEvery,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		taskTimeout: 60 * time.Second,
		done:        make(chan struct{}),
	}
}

// Register installs the handler for a task kind. Must be called before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start polls until Stop is called or the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

// Stop signals the polling goroutine to exit.
func (w *Worker) Stop() {
	close(w.done)
}

// runOnce claims one batch of due tasks and processes each in turn. Errors
// are logged rather than returned so a bad task cannot stall the loop.
func (w *Worker) runOnce(ctx context.Context) {
	tasks, err := w.source.Claim(ctx, w.batchSize)
	if err != nil {
		slog.Error("failed to claim outbox tasks", "error", err)
		return
	}

	for _, t := range tasks {
		w.process(ctx, t)
	}
}

func (w *Worker) process(ctx context.Context, t Task) {
	handler, ok := w.handlers[t.Kind]
	if !ok {
		// Unknown kinds are parked rather than retried: retrying cannot help
		// until a handler is deployed.
		slog.Error("no handler registered for task kind", "kind", t.Kind, "task_id", t.ID)
		if err := w.source.MarkDead(ctx, t.ID, fmt.Sprintf("no handler for kind %q", t.Kind)); err != nil {
			slog.Error("failed to mark task dead", "task_id", t.ID, "error", err)
		}
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	start := time.Now()
	err := runHandler(taskCtx, handler, t.Payload)
	cancel()

	if err == nil {
		w.observe(t.Kind, "done", time.Since(start))
		if err := w.source.MarkDone(ctx, t.ID); err != nil {
			slog.Error("failed to mark task done", "task_id", t.ID, "error", err)
		}
		return
	}

	slog.Error("outbox task failed", "kind", t.Kind, "task_id", t.ID, "attempt", t.Attempts, "error", err)

	if t.Attempts >= w.maxAttempts {
		w.observe(t.Kind, "dead", time.Since(start))
		if err := w.source.MarkDead(ctx, t.ID, err.Error()); err != nil {
			slog.Error("failed to mark task dead", "task_id", t.ID, "error", err)
		}
		return
	}

	w.observe(t.Kind, "retried", time.Since(start))
	runAt := time.Now().Add(Backoff(t.Attempts))
	if err := w.source.Retry(ctx, t.ID, runAt, err.Error()); err != nil {
		slog.Error("failed to reschedule task", "task_id", t.ID, "error", err)
	}
}

func (w *Worker) observe(kind, outcome string, d time.Duration) {
	if w.Observe != nil {
		w.Observe(kind, outcome, d)
	}
}

// runHandler invokes the handler, converting a panic into an error so one
// misbehaving task cannot take down the worker.
func runHandler(ctx context.Context, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

// Backoff returns the delay before the next attempt: 30s doubling per
// attempt, capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}
