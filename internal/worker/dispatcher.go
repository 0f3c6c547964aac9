package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"filebridge/internal/pipeline"

	"github.com/google/uuid"
)

// Processor runs one file through the pipeline to a terminal state.
type Processor interface {
	Process(ctx context.Context, fileID uuid.UUID) (*pipeline.Result, error)
}

// JobLister finds jobs eligible for processing.
type JobLister interface {
	ListRunnable(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error)
}

// Dispatcher polls for runnable jobs and fans them out onto the limiter.
// Received files and crashed attempts with expired leases are picked up the
// same way; the store lease makes double dispatch harmless.
type Dispatcher struct {
	jobs     JobLister
	proc     Processor
	limiter  *Limiter
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(jobs JobLister, proc Processor, limiter *Limiter, interval, fileTimeout time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:     jobs,
		proc:     proc,
		limiter:  limiter,
		interval: interval,
		timeout:  fileTimeout,
		log:      log,
	}
}

// Run polls until the context is cancelled, then waits for in-flight runs.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started", "poll_interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping, waiting for in-flight files")
			d.wg.Wait()
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	limit := d.limiter.Available()
	if limit == 0 {
		return
	}

	ids, err := d.jobs.ListRunnable(ctx, limit, time.Now().UTC())
	if err != nil {
		d.log.Error("list runnable jobs failed", "error", err)
		return
	}

	for _, id := range ids {
		if !d.limiter.TryAcquire() {
			return
		}
		d.wg.Add(1)
		go d.run(ctx, id)
	}
}

func (d *Dispatcher) run(ctx context.Context, id uuid.UUID) {
	defer d.wg.Done()
	defer d.limiter.Release()

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.proc.Process(runCtx, id)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyInProgress):
		// Another worker got there first; the next poll moves on.
	case err != nil:
		d.log.Error("background processing failed", "file_id", id, "error", err)
	default:
		d.log.Info("background processing finished",
			"file_id", id,
			"state", res.State,
			"rows", res.Counts.Rows,
			"failed", res.Counts.Failed,
		)
	}
}
