package reconcile

import (
	"context"
	"log"
	"sync"
	"time"
)

// Worker runs the reconciliation job on a fixed interval. It is started
// once at boot with a context owned by main, stops when that context is
// cancelled, and exposes its last failure to the health endpoint instead
// of dying silently in a goroutine.
type Worker struct {
	job      *Job
	interval time.Duration
	limit    int
	logger   *log.Logger

	mu      sync.Mutex
	lastErr error
	lastRun time.Time

	done chan struct{}
}

func NewWorker(job *Job, interval time.Duration, limit int, logger *log.Logger) *Worker {
	return &Worker{
		job:      job,
		interval: interval,
		limit:    limit,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Cancel the context to stop, then Wait.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Wait blocks until the loop has exited.
func (w *Worker) Wait() {
	<-w.done
}

// LastError returns the failure of the most recent run, or nil.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// LastRun returns when the most recent run finished.
func (w *Worker) LastRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("reconcile worker stopping")
			return
		case <-ticker.C:
			n, err := w.job.Run(ctx, w.limit)
			w.record(err)
			if err != nil {
				w.logger.Printf("reconcile run failed: %v", err)
				continue
			}
			w.logger.Printf("reconcile run processed %d events", n)
		}
	}
}

func (w *Worker) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastRun = time.Now()
	w.mu.Unlock()
}
