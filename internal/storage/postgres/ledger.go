package postgres

import (
	"context"
	"time"

	"filebridge/internal/delivery"
	"filebridge/internal/pipeline"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerStore is the append-only outcome ledger. The primary key on
// (file_id, row_index, attempt) enforces one terminal outcome per row per
// attempt; delivery attempts are plain inserts, one row per HTTP call.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) AppendRowOutcome(ctx context.Context, o pipeline.RowOutcome) error {
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO row_outcomes (file_id, row_index, attempt, stage_reached, status, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.FileID, o.RowIndex, o.Attempt, o.Stage, o.Status, o.Detail, o.At)
	if isUniqueViolation(err) {
		return pipeline.ErrDuplicateOutcome
	}
	return err
}

func (s *LedgerStore) AppendDeliveryAttempt(ctx context.Context, a delivery.Attempt) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (file_id, row_index, job_attempt, attempt_number, outcome, http_status, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.FileID, a.RowIndex, a.JobAttempt, a.Number, a.Outcome, a.HTTPStatus, a.At)
	return err
}

func (s *LedgerStore) ListRowOutcomes(ctx context.Context, fileID uuid.UUID, attempt int) ([]pipeline.RowOutcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_id, row_index, attempt, stage_reached, status, detail, recorded_at
		FROM row_outcomes
		WHERE file_id = $1 AND attempt = $2
		ORDER BY row_index`, fileID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.RowOutcome
	for rows.Next() {
		var o pipeline.RowOutcome
		if err := rows.Scan(&o.FileID, &o.RowIndex, &o.Attempt, &o.Stage, &o.Status, &o.Detail, &o.At); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListDeliveryAttempts(ctx context.Context, fileID uuid.UUID, attempt int) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_id, row_index, job_attempt, attempt_number, outcome, http_status, recorded_at
		FROM delivery_attempts
		WHERE file_id = $1 AND job_attempt = $2
		ORDER BY row_index, attempt_number`, fileID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Attempt
	for rows.Next() {
		var a delivery.Attempt
		if err := rows.Scan(&a.FileID, &a.RowIndex, &a.JobAttempt, &a.Number, &a.Outcome, &a.HTTPStatus, &a.At); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LedgerStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	outcomes, err := s.pool.Exec(ctx,
		`DELETE FROM row_outcomes WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	attempts, err := s.pool.Exec(ctx,
		`DELETE FROM delivery_attempts WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return outcomes.RowsAffected(), err
	}
	return outcomes.RowsAffected() + attempts.RowsAffected(), nil
}
