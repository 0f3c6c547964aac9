package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"filebridge/internal/delivery"
	"filebridge/internal/mapping"
	"filebridge/internal/source"

	"github.com/google/uuid"
)

// Resolver resolves a client code to its compiled active mapping.
type Resolver interface {
	Resolve(clientCode string) (*mapping.Compiled, error)
}

// Deliverer sends one normalized record downstream, retrying per policy and
// recording every attempt in the ledger.
type Deliverer interface {
	Deliver(ctx context.Context, ref delivery.RowRef, record map[string]any) error
}

// Result summarizes one finished processing attempt.
type Result struct {
	FileID  uuid.UUID
	Attempt int
	State   JobState
	Counts  RowCounts
	Detail  string
}

// Orchestrator runs the per-file processing attempt: acquire lease, resolve
// mapping, stream rows through transform -> validate -> deliver, record
// outcomes, finalize.
//
// It is safe to process distinct files concurrently; the same file is
// protected twice: an in-process active set gives a cheap AlreadyInProgress
// answer, and the store lease guards across processes.
type Orchestrator struct {
	jobs     JobStore
	ledger   LedgerStore
	registry Resolver
	deliver  Deliverer
	open     source.Opener
	leaseTTL time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewOrchestrator wires the processing dependencies.
func NewOrchestrator(jobs JobStore, ledger LedgerStore, registry Resolver, deliver Deliverer, open source.Opener, leaseTTL time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		ledger:   ledger,
		registry: registry,
		deliver:  deliver,
		open:     open,
		leaseTTL: leaseTTL,
		log:      log,
		active:   make(map[uuid.UUID]struct{}),
	}
}

// Process runs one attempt for fileID through to a terminal state.
//
// The returned Result describes the terminal outcome, including file-fatal
// conditions (state failed). An error is returned only when the attempt
// could not run or finish at all: unknown job, concurrent attempt, or a
// store failure.
func (o *Orchestrator) Process(ctx context.Context, fileID uuid.UUID) (*Result, error) {
	if !o.markActive(fileID) {
		return nil, ErrAlreadyInProgress
	}
	defer o.unmarkActive(fileID)

	token := uuid.New()
	job, err := o.jobs.AcquireLease(ctx, fileID, token, o.leaseTTL, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	log := o.log.With(
		"file_id", job.ID,
		"client_code", job.ClientCode,
		"attempt", job.Attempt,
	)
	log.Info("file processing started", "file_name", job.FileName)

	compiled, err := o.registry.Resolve(job.ClientCode)
	if err != nil {
		cfgErr := &ConfigError{ClientCode: job.ClientCode, Err: err}
		return o.finishFailed(ctx, job, token, RowCounts{}, cfgErr.Error(), log)
	}

	src, err := o.open(job.SpoolPath)
	if err != nil {
		parseErr := &ParseError{Path: job.SpoolPath, Err: err}
		return o.finishFailed(ctx, job, token, RowCounts{}, parseErr.Error(), log)
	}
	defer src.Close()

	var (
		counts            RowCounts
		deliveriesTried   int
		deliveriesDrained int // retryable failures that exhausted the budget
	)

	for rowIndex := 0; ; rowIndex++ {
		// Cancellation is honored between rows; already-delivered rows
		// stay delivered.
		if ctx.Err() != nil {
			log.Warn("file processing cancelled", "rows_done", counts.Rows)
			return o.finishFailed(context.WithoutCancel(ctx), job, token, counts, "processing cancelled", log)
		}

		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErr := &ParseError{Path: job.SpoolPath, Err: err}
			return o.finishFailed(ctx, job, token, counts, parseErr.Error(), log)
		}

		outcome, tried, drained, err := o.processRow(ctx, job, compiled, row, rowIndex)
		if err != nil {
			// Ledger append or cancellation mid-delivery: the attempt
			// cannot guarantee its bookkeeping, fail the file.
			log.Error("row processing aborted", "row_index", rowIndex, "error", err)
			return o.finishFailed(context.WithoutCancel(ctx), job, token, counts,
				fmt.Sprintf("row %d: %v", rowIndex, err), log)
		}

		counts.Rows++
		if outcome.Status == RowOK {
			counts.Succeeded++
		} else {
			counts.Failed++
		}
		if tried {
			deliveriesTried++
		}
		if drained {
			deliveriesDrained++
		}
	}

	// The downstream being unreachable for every row that got as far as
	// delivery is an infrastructure problem, not a data problem.
	if deliveriesTried > 0 && deliveriesDrained == deliveriesTried {
		return o.finishFailed(ctx, job, token, counts,
			"delivery endpoint unreachable: all rows exhausted retries", log)
	}

	if err := o.jobs.Finish(ctx, job.ID, token, StateCompleted, counts, "", time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("finalize job: %w", err)
	}

	log.Info("file processing completed",
		"rows", counts.Rows,
		"succeeded", counts.Succeeded,
		"failed", counts.Failed,
	)
	return &Result{FileID: job.ID, Attempt: job.Attempt, State: StateCompleted, Counts: counts}, nil
}

// processRow takes one row through transform, validate and deliver, and
// records its terminal outcome. Row-level failures are returned as the
// outcome, never as an error; the error return is reserved for conditions
// that abort the whole file (ledger failure, cancellation mid-delivery).
func (o *Orchestrator) processRow(ctx context.Context, job *FileJob, compiled *mapping.Compiled, row source.Row, rowIndex int) (outcome RowOutcome, deliveryTried, deliveryDrained bool, err error) {
	outcome = RowOutcome{
		FileID:   job.ID,
		RowIndex: rowIndex,
		Attempt:  job.Attempt,
		At:       time.Now().UTC(),
	}

	rec, terr := Transform(row, compiled)
	if terr != nil {
		outcome.Stage = StageParsed
		outcome.Status = RowTransformError
		outcome.Detail = terr.Error()
		return outcome, false, false, o.ledger.AppendRowOutcome(ctx, outcome)
	}

	if verr := Validate(rec, compiled.Rules); verr != nil {
		outcome.Stage = StageTransformed
		outcome.Status = RowValidationError
		outcome.Detail = verr.Error()
		return outcome, false, false, o.ledger.AppendRowOutcome(ctx, outcome)
	}

	ref := delivery.RowRef{FileID: job.ID, RowIndex: rowIndex, JobAttempt: job.Attempt}
	derr := o.deliver.Deliver(ctx, ref, rec)
	deliveryTried = true

	switch {
	case derr == nil:
		outcome.Stage = StageDelivered
		outcome.Status = RowOK

	case isDeliveryFailure(derr):
		var exhausted *delivery.RetryExhaustedError
		if errors.As(derr, &exhausted) {
			deliveryDrained = true
		}
		outcome.Stage = StageValidated
		outcome.Status = RowDeliveryError
		outcome.Detail = derr.Error()

	default:
		// Cancellation or a ledger failure inside the delivery client.
		return outcome, deliveryTried, false, derr
	}

	return outcome, deliveryTried, deliveryDrained, o.ledger.AppendRowOutcome(ctx, outcome)
}

// isDeliveryFailure reports whether err is a terminal per-row delivery
// failure (fatal rejection or exhausted retries) rather than an abort.
func isDeliveryFailure(err error) bool {
	var fatal *delivery.FatalError
	var exhausted *delivery.RetryExhaustedError
	return errors.As(err, &fatal) || errors.As(err, &exhausted)
}

// finishFailed finalizes the attempt in the failed state.
func (o *Orchestrator) finishFailed(ctx context.Context, job *FileJob, token uuid.UUID, counts RowCounts, detail string, log *slog.Logger) (*Result, error) {
	if err := o.jobs.Finish(ctx, job.ID, token, StateFailed, counts, detail, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("finalize job: %w", err)
	}
	log.Error("file processing failed", "detail", detail, "rows", counts.Rows)
	return &Result{FileID: job.ID, Attempt: job.Attempt, State: StateFailed, Counts: counts, Detail: detail}, nil
}

func (o *Orchestrator) markActive(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[id]; busy {
		return false
	}
	o.active[id] = struct{}{}
	return true
}

func (o *Orchestrator) unmarkActive(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}
