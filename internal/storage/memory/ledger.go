package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"filebridge/internal/delivery"
	"filebridge/internal/pipeline"

	"github.com/google/uuid"
)

type outcomeKey struct {
	fileID   uuid.UUID
	rowIndex int
	attempt  int
}

// LedgerStore is the in-memory append-only outcome ledger.
type LedgerStore struct {
	mu       sync.Mutex
	outcomes map[outcomeKey]pipeline.RowOutcome
	attempts []delivery.Attempt
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{outcomes: make(map[outcomeKey]pipeline.RowOutcome)}
}

func (s *LedgerStore) AppendRowOutcome(ctx context.Context, o pipeline.RowOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := outcomeKey{fileID: o.FileID, rowIndex: o.RowIndex, attempt: o.Attempt}
	if _, exists := s.outcomes[key]; exists {
		return pipeline.ErrDuplicateOutcome
	}
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}
	s.outcomes[key] = o
	return nil
}

func (s *LedgerStore) AppendDeliveryAttempt(ctx context.Context, a delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *LedgerStore) ListRowOutcomes(ctx context.Context, fileID uuid.UUID, attempt int) ([]pipeline.RowOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pipeline.RowOutcome
	for key, o := range s.outcomes {
		if key.fileID == fileID && key.attempt == attempt {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (s *LedgerStore) ListDeliveryAttempts(ctx context.Context, fileID uuid.UUID, attempt int) ([]delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []delivery.Attempt
	for _, a := range s.attempts {
		if a.FileID == fileID && a.JobAttempt == attempt {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (s *LedgerStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for key, o := range s.outcomes {
		if o.At.Before(cutoff) {
			delete(s.outcomes, key)
			pruned++
		}
	}
	kept := s.attempts[:0]
	for _, a := range s.attempts {
		if a.At.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return pruned, nil
}
