package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"filebridge/internal/pipeline"

	"github.com/google/uuid"
)

// JobStore keeps file jobs and implements the processing lease in memory.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*pipeline.FileJob
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*pipeline.FileJob)}
}

func (s *JobStore) Create(ctx context.Context, job *pipeline.FileJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.State == "" {
		job.State = pipeline.StateReceived
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*pipeline.FileJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, pipeline.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]pipeline.FileJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]pipeline.FileJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) AcquireLease(ctx context.Context, id, token uuid.UUID, ttl time.Duration, now time.Time) (*pipeline.FileJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, pipeline.ErrJobNotFound
	}
	if job.State == pipeline.StateProcessing && job.LeaseExpiresAt.After(now) {
		return nil, pipeline.ErrAlreadyInProgress
	}

	job.State = pipeline.StateProcessing
	job.Attempt++
	job.LeaseToken = token
	job.LeaseExpiresAt = now.Add(ttl)
	job.ErrorDetail = ""

	cp := *job
	return &cp, nil
}

func (s *JobStore) Finish(ctx context.Context, id, token uuid.UUID, state pipeline.JobState, counts pipeline.RowCounts, detail string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return pipeline.ErrJobNotFound
	}
	if job.LeaseToken != token {
		return pipeline.ErrLeaseLost
	}

	job.State = state
	job.RowCount = counts.Rows
	job.SuccessCount = counts.Succeeded
	job.ErrorCount = counts.Failed
	job.ErrorDetail = detail
	job.LeaseToken = uuid.Nil
	job.LeaseExpiresAt = time.Time{}
	ts := at
	job.ProcessedAt = &ts
	return nil
}

func (s *JobStore) ListRunnable(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*pipeline.FileJob
	for _, job := range s.jobs {
		switch {
		case job.State == pipeline.StateReceived:
			jobs = append(jobs, job)
		case job.State == pipeline.StateProcessing && !job.LeaseExpiresAt.After(now):
			// crashed attempt, lease expired
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })

	ids := make([]uuid.UUID, 0, len(jobs))
	for _, job := range jobs {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}
