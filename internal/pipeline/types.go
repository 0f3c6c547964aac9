// Package pipeline drives a client file through parse, transform, validate
// and delivery, recording per-row outcomes and moving the file job to a
// terminal state.
//
// Row failures are data quality problems: they are recorded and the loop
// continues with the next row. File failures are infrastructure or
// configuration problems: they abort processing and mark the whole job
// failed.
package pipeline

import (
	"context"
	"time"

	"filebridge/internal/delivery"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a file job.
type JobState string

const (
	StateReceived   JobState = "received"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage names the last pipeline stage a row successfully reached.
type Stage string

const (
	StageParsed      Stage = "parsed"
	StageTransformed Stage = "transformed"
	StageValidated   Stage = "validated"
	StageDelivered   Stage = "delivered"
)

// RowStatus is the terminal status of one row.
type RowStatus string

const (
	RowOK              RowStatus = "ok"
	RowTransformError  RowStatus = "transform_error"
	RowValidationError RowStatus = "validation_error"
	RowDeliveryError   RowStatus = "delivery_error"
)

// FileJob tracks one uploaded file through processing. Terminal states are
// immutable; re-processing starts a fresh attempt under a new attempt
// number, it never rewrites history.
type FileJob struct {
	ID         uuid.UUID `json:"file_id"`
	ClientCode string    `json:"client_code"`
	FileName   string    `json:"file_name"`
	SpoolPath  string    `json:"-"`
	State      JobState  `json:"state"`

	// Attempt is the processing attempt counter, incremented each time a
	// lease is acquired.
	Attempt int `json:"attempt"`

	RowCount     int    `json:"row_count"`
	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	ErrorDetail  string `json:"error_detail,omitempty"`

	// Lease fields implement the at-most-one-active-attempt guarantee.
	LeaseToken     uuid.UUID `json:"-"`
	LeaseExpiresAt time.Time `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// RowOutcome is the immutable terminal record for one row of one attempt.
type RowOutcome struct {
	FileID   uuid.UUID `json:"file_id"`
	RowIndex int       `json:"row_index"`
	Attempt  int       `json:"attempt"`
	Stage    Stage     `json:"stage_reached"`
	Status   RowStatus `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// RowCounts aggregates a finished attempt. Succeeded+Failed == Rows for
// every terminal job.
type RowCounts struct {
	Rows      int
	Succeeded int
	Failed    int
}

// JobStore persists file jobs and implements the processing lease.
type JobStore interface {
	Create(ctx context.Context, job *FileJob) error
	Get(ctx context.Context, id uuid.UUID) (*FileJob, error)
	ListRecent(ctx context.Context, limit int) ([]FileJob, error)

	// AcquireLease transitions the job to processing under token with the
	// given TTL and increments the attempt counter. It fails with
	// ErrAlreadyInProgress while another attempt holds a live lease, and
	// with ErrJobNotFound for unknown ids. Expired leases are treated as
	// released: the job becomes eligible for a fresh attempt.
	AcquireLease(ctx context.Context, id, token uuid.UUID, ttl time.Duration, now time.Time) (*FileJob, error)

	// Finish moves the job to a terminal state and releases the lease.
	// Fails with ErrLeaseLost when token no longer holds the lease.
	Finish(ctx context.Context, id, token uuid.UUID, state JobState, counts RowCounts, detail string, at time.Time) error

	// ListRunnable returns ids of jobs eligible for processing: received,
	// or processing with an expired lease (crashed attempts).
	ListRunnable(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error)
}

// LedgerStore is the append-only outcome ledger. Appends must be
// linearizable per (file_id, row_index, attempt): a duplicate terminal
// outcome for the same key is rejected with ErrDuplicateOutcome.
type LedgerStore interface {
	delivery.AttemptRecorder

	AppendRowOutcome(ctx context.Context, o RowOutcome) error
	ListRowOutcomes(ctx context.Context, fileID uuid.UUID, attempt int) ([]RowOutcome, error)
	ListDeliveryAttempts(ctx context.Context, fileID uuid.UUID, attempt int) ([]delivery.Attempt, error)

	// PruneOlderThan removes ledger entries recorded before cutoff and
	// returns how many were deleted.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
