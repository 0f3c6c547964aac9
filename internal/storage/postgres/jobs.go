package postgres

import (
	"context"
	"errors"
	"time"

	"filebridge/internal/pipeline"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobStore persists file jobs. The processing lease is a conditional UPDATE:
// only one attempt can win the row, concurrent losers see the live lease and
// give up with ErrAlreadyInProgress.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `id, client_code, file_name, spool_path, state, attempt,
	row_count, success_count, error_count, error_detail,
	lease_token, lease_expires_at, created_at, processed_at`

func scanJob(row pgx.Row) (*pipeline.FileJob, error) {
	var (
		job       pipeline.FileJob
		token     *uuid.UUID
		expiresAt *time.Time
	)
	err := row.Scan(
		&job.ID, &job.ClientCode, &job.FileName, &job.SpoolPath, &job.State, &job.Attempt,
		&job.RowCount, &job.SuccessCount, &job.ErrorCount, &job.ErrorDetail,
		&token, &expiresAt, &job.CreatedAt, &job.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if token != nil {
		job.LeaseToken = *token
	}
	if expiresAt != nil {
		job.LeaseExpiresAt = *expiresAt
	}
	return &job, nil
}

func (s *JobStore) Create(ctx context.Context, job *pipeline.FileJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	created, err := scanJob(s.pool.QueryRow(ctx, `
		INSERT INTO file_jobs (id, client_code, file_name, spool_path, state)
		VALUES ($1, $2, $3, $4, 'received')
		RETURNING `+jobColumns,
		job.ID, job.ClientCode, job.FileName, job.SpoolPath))
	if err != nil {
		return err
	}
	*job = *created
	return nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*pipeline.FileJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM file_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline.ErrJobNotFound
	}
	return job, err
}

func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]pipeline.FileJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM file_jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []pipeline.FileJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) AcquireLease(ctx context.Context, id, token uuid.UUID, ttl time.Duration, now time.Time) (*pipeline.FileJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE file_jobs
		SET state = 'processing',
		    attempt = attempt + 1,
		    lease_token = $2,
		    lease_expires_at = $3,
		    error_detail = ''
		WHERE id = $1
		  AND (state <> 'processing' OR lease_expires_at <= $4)
		RETURNING `+jobColumns,
		id, token, now.Add(ttl), now))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The conditional update matched nothing: either the job does not
	// exist or another attempt holds a live lease.
	var exists bool
	if qerr := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM file_jobs WHERE id = $1)`, id).Scan(&exists); qerr != nil {
		return nil, qerr
	}
	if !exists {
		return nil, pipeline.ErrJobNotFound
	}
	return nil, pipeline.ErrAlreadyInProgress
}

func (s *JobStore) Finish(ctx context.Context, id, token uuid.UUID, state pipeline.JobState, counts pipeline.RowCounts, detail string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE file_jobs
		SET state = $3,
		    row_count = $4,
		    success_count = $5,
		    error_count = $6,
		    error_detail = $7,
		    lease_token = NULL,
		    lease_expires_at = NULL,
		    processed_at = $8
		WHERE id = $1 AND lease_token = $2`,
		id, token, state, counts.Rows, counts.Succeeded, counts.Failed, detail, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM file_jobs WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return qerr
		}
		if !exists {
			return pipeline.ErrJobNotFound
		}
		return pipeline.ErrLeaseLost
	}
	return nil
}

func (s *JobStore) ListRunnable(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM file_jobs
		WHERE state = 'received'
		   OR (state = 'processing' AND lease_expires_at <= $2)
		ORDER BY created_at
		LIMIT $1`, limit, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
