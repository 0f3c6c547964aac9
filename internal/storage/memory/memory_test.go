package memory

import (
	"context"
	"testing"
	"time"

	"filebridge/internal/delivery"
	"filebridge/internal/mapping"
	"filebridge/internal/pipeline"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMapping() mapping.Config {
	return mapping.Config{
		ClientCode: "CLIENTE_REMESA",
		FieldMap: mapping.FieldMap{
			"name": {Source: "NOMBRE", Transform: mapping.TransformUpper},
		},
	}
}

func TestMappingStore_CreateAssignsVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMappingStore()

	v1, err := store.Create(ctx, testMapping(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.True(t, v1.Active)

	v2, err := store.Create(ctx, testMapping(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	// Activating v2 deactivated v1.
	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Version)

	versions, err := store.ListVersions(ctx, "CLIENTE_REMESA")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version, "newest first")
}

func TestMappingStore_CreateWithoutActivate(t *testing.T) {
	ctx := context.Background()
	store := NewMappingStore()

	_, err := store.Create(ctx, testMapping(), true)
	require.NoError(t, err)
	draft, err := store.Create(ctx, testMapping(), false)
	require.NoError(t, err)
	assert.False(t, draft.Active)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].Version, "draft must not displace the active version")
}

func TestMappingStore_Activate(t *testing.T) {
	ctx := context.Background()
	store := NewMappingStore()

	_, err := store.Create(ctx, testMapping(), true)
	require.NoError(t, err)
	_, err = store.Create(ctx, testMapping(), true)
	require.NoError(t, err)

	require.NoError(t, store.Activate(ctx, "CLIENTE_REMESA", 1))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].Version)

	err = store.Activate(ctx, "CLIENTE_REMESA", 9)
	assert.ErrorIs(t, err, mapping.ErrNotFound)
	err = store.Activate(ctx, "NO_SUCH_CLIENT", 1)
	assert.ErrorIs(t, err, mapping.ErrNotFound)
}

func TestMappingStore_CreateRejectsInvalid(t *testing.T) {
	store := NewMappingStore()
	_, err := store.Create(context.Background(), mapping.Config{ClientCode: "X"}, true)
	assert.Error(t, err)
}

func newJob(t *testing.T, store *JobStore) *pipeline.FileJob {
	t.Helper()
	job := &pipeline.FileJob{ClientCode: "CLIENTE_REMESA", FileName: "remesa.csv", SpoolPath: "/tmp/remesa.csv"}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestJobStore_LeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	job := newJob(t, store)
	now := time.Now().UTC()

	token := uuid.New()
	leased, err := store.AcquireLease(ctx, job.ID, token, 15*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateProcessing, leased.State)
	assert.Equal(t, 1, leased.Attempt)

	// Live lease blocks a second attempt.
	_, err = store.AcquireLease(ctx, job.ID, uuid.New(), 15*time.Minute, now)
	assert.ErrorIs(t, err, pipeline.ErrAlreadyInProgress)

	counts := pipeline.RowCounts{Rows: 3, Succeeded: 2, Failed: 1}
	require.NoError(t, store.Finish(ctx, job.ID, token, pipeline.StateCompleted, counts, "", now))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCompleted, got.State)
	assert.Equal(t, 3, got.RowCount)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.ErrorCount)
	require.NotNil(t, got.ProcessedAt)

	// Terminal job can be re-attempted under a fresh lease.
	leased, err = store.AcquireLease(ctx, job.ID, uuid.New(), 15*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 2, leased.Attempt)
}

func TestJobStore_ExpiredLeaseIsReleased(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	job := newJob(t, store)
	now := time.Now().UTC()

	staleToken := uuid.New()
	_, err := store.AcquireLease(ctx, job.ID, staleToken, time.Minute, now)
	require.NoError(t, err)

	// After expiry another worker takes over.
	later := now.Add(2 * time.Minute)
	_, err = store.AcquireLease(ctx, job.ID, uuid.New(), time.Minute, later)
	require.NoError(t, err)

	// The stale holder can no longer finish.
	err = store.Finish(ctx, job.ID, staleToken, pipeline.StateCompleted, pipeline.RowCounts{}, "", later)
	assert.ErrorIs(t, err, pipeline.ErrLeaseLost)
}

func TestJobStore_ListRunnable(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	now := time.Now().UTC()

	fresh := newJob(t, store)

	leased := newJob(t, store)
	_, err := store.AcquireLease(ctx, leased.ID, uuid.New(), time.Hour, now)
	require.NoError(t, err)

	crashed := newJob(t, store)
	_, err = store.AcquireLease(ctx, crashed.ID, uuid.New(), time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)

	done := newJob(t, store)
	doneToken := uuid.New()
	_, err = store.AcquireLease(ctx, done.ID, doneToken, time.Hour, now)
	require.NoError(t, err)
	require.NoError(t, store.Finish(ctx, done.ID, doneToken, pipeline.StateCompleted, pipeline.RowCounts{}, "", now))

	ids, err := store.ListRunnable(ctx, 10, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{fresh.ID, crashed.ID}, ids)
}

func TestJobStore_UnknownJob(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	_, err := store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, pipeline.ErrJobNotFound)
	_, err = store.AcquireLease(ctx, uuid.New(), uuid.New(), time.Minute, time.Now())
	assert.ErrorIs(t, err, pipeline.ErrJobNotFound)
}

func TestLedgerStore_AppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	fileID := uuid.New()

	out := pipeline.RowOutcome{
		FileID: fileID, RowIndex: 0, Attempt: 1,
		Stage: pipeline.StageDelivered, Status: pipeline.RowOK,
	}
	require.NoError(t, store.AppendRowOutcome(ctx, out))

	// Same (file, row, attempt) is rejected; a new attempt is not.
	err := store.AppendRowOutcome(ctx, out)
	assert.ErrorIs(t, err, pipeline.ErrDuplicateOutcome)
	out.Attempt = 2
	require.NoError(t, store.AppendRowOutcome(ctx, out))

	got, err := store.ListRowOutcomes(ctx, fileID, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLedgerStore_DeliveryAttemptsOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	fileID := uuid.New()

	for _, a := range []delivery.Attempt{
		{FileID: fileID, RowIndex: 1, JobAttempt: 1, Number: 1, Outcome: delivery.OutcomeSuccess, HTTPStatus: 201},
		{FileID: fileID, RowIndex: 0, JobAttempt: 1, Number: 2, Outcome: delivery.OutcomeSuccess, HTTPStatus: 201},
		{FileID: fileID, RowIndex: 0, JobAttempt: 1, Number: 1, Outcome: delivery.OutcomeRetryable, HTTPStatus: 503},
	} {
		require.NoError(t, store.AppendDeliveryAttempt(ctx, a))
	}

	got, err := store.ListDeliveryAttempts(ctx, fileID, 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].RowIndex)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, 2, got[1].Number)
	assert.Equal(t, 1, got[2].RowIndex)
}

func TestLedgerStore_Prune(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	fileID := uuid.New()
	old := time.Now().UTC().Add(-48 * time.Hour)

	require.NoError(t, store.AppendRowOutcome(ctx, pipeline.RowOutcome{
		FileID: fileID, RowIndex: 0, Attempt: 1, Status: pipeline.RowOK, Stage: pipeline.StageDelivered, At: old,
	}))
	require.NoError(t, store.AppendRowOutcome(ctx, pipeline.RowOutcome{
		FileID: fileID, RowIndex: 1, Attempt: 1, Status: pipeline.RowOK, Stage: pipeline.StageDelivered,
	}))
	require.NoError(t, store.AppendDeliveryAttempt(ctx, delivery.Attempt{
		FileID: fileID, RowIndex: 0, JobAttempt: 1, Number: 1, Outcome: delivery.OutcomeSuccess, At: old,
	}))

	pruned, err := store.PruneOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	remaining, err := store.ListRowOutcomes(ctx, fileID, 1)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 1, remaining[0].RowIndex)
}
