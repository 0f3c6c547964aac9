package pipeline

import (
	"context"
	"fmt"
	"time"

	"filebridge/internal/delivery"

	"github.com/google/uuid"
)

// FailedRow describes one row that did not make it downstream.
type FailedRow struct {
	RowIndex int       `json:"row_index"`
	Stage    Stage     `json:"stage_reached"`
	Status   RowStatus `json:"status"`
	Detail   string    `json:"detail"`
	At       time.Time `json:"at"`
}

// DeliveryStats aggregates the delivery attempts of one processing attempt.
type DeliveryStats struct {
	Attempts  int `json:"attempts"`
	Succeeded int `json:"succeeded"`
	Retryable int `json:"retryable_failures"`
	Fatal     int `json:"fatal_failures"`
}

// Report is the per-attempt processing summary assembled from the ledger.
type Report struct {
	FileID      uuid.UUID         `json:"file_id"`
	ClientCode  string            `json:"client_code"`
	FileName    string            `json:"file_name"`
	State       JobState          `json:"state"`
	Attempt     int               `json:"attempt"`
	Rows        int               `json:"rows"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	ByStatus    map[RowStatus]int `json:"by_status"`
	FailedRows  []FailedRow       `json:"failed_rows"`
	Delivery    DeliveryStats     `json:"delivery"`
	Detail      string            `json:"detail,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
}

// Reporter builds processing reports from the job store and the ledger.
type Reporter struct {
	jobs   JobStore
	ledger LedgerStore
}

func NewReporter(jobs JobStore, ledger LedgerStore) *Reporter {
	return &Reporter{jobs: jobs, ledger: ledger}
}

// Report assembles the summary for the job's most recent attempt.
func (r *Reporter) Report(ctx context.Context, fileID uuid.UUID) (*Report, error) {
	job, err := r.jobs.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	outcomes, err := r.ledger.ListRowOutcomes(ctx, fileID, job.Attempt)
	if err != nil {
		return nil, fmt.Errorf("list row outcomes: %w", err)
	}
	attempts, err := r.ledger.ListDeliveryAttempts(ctx, fileID, job.Attempt)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}

	rep := &Report{
		FileID:      job.ID,
		ClientCode:  job.ClientCode,
		FileName:    job.FileName,
		State:       job.State,
		Attempt:     job.Attempt,
		ByStatus:    make(map[RowStatus]int),
		FailedRows:  make([]FailedRow, 0),
		Detail:      job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		ProcessedAt: job.ProcessedAt,
	}

	for _, out := range outcomes {
		rep.Rows++
		rep.ByStatus[out.Status]++
		if out.Status == RowOK {
			rep.Succeeded++
			continue
		}
		rep.Failed++
		rep.FailedRows = append(rep.FailedRows, FailedRow{
			RowIndex: out.RowIndex,
			Stage:    out.Stage,
			Status:   out.Status,
			Detail:   out.Detail,
			At:       out.At,
		})
	}

	for _, att := range attempts {
		rep.Delivery.Attempts++
		switch att.Outcome {
		case delivery.OutcomeSuccess:
			rep.Delivery.Succeeded++
		case delivery.OutcomeRetryable:
			rep.Delivery.Retryable++
		case delivery.OutcomeFatal:
			rep.Delivery.Fatal++
		}
	}

	return rep, nil
}
