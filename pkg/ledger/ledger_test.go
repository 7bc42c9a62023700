package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "caa_backup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBulkInsert_DuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	items := []Item{
		{CAAID: 1001, ReleaseMBID: "aabcd", Status: StatusNotDownloaded, MimeType: "image/jpeg"},
		{CAAID: 1002, ReleaseMBID: "aabcd", Status: StatusNotDownloaded},
	}

	inserted, err := store.BulkInsert(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	// Re-importing the same ids must not create duplicates or fail the batch.
	inserted, err = store.BulkInsert(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[StatusNotDownloaded])
}

func TestClaimBatch_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.BulkInsert(ctx, []Item{
		{CAAID: 3, ReleaseMBID: "zz", Status: StatusNotDownloaded},
		{CAAID: 2, ReleaseMBID: "aa", Status: StatusNotDownloaded},
		{CAAID: 1, ReleaseMBID: "aa", Status: StatusNotDownloaded},
		{CAAID: 4, ReleaseMBID: "mm", Status: StatusDownloaded},
	})
	require.NoError(t, err)

	batch, err := store.ClaimBatch(ctx, StatusNotDownloaded, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].CAAID)
	assert.Equal(t, int64(2), batch[1].CAAID)

	// Claiming does not change any status.
	n, err := store.CountByStatus(ctx, StatusNotDownloaded)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestClaimBatch_EmptyWhenNoneMatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	batch, err := store.ClaimBatch(ctx, StatusNotDownloaded, 100)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.BulkInsert(ctx, []Item{{CAAID: 7, ReleaseMBID: "ab", Status: StatusNotDownloaded}})
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, 7, "ab", StatusPermanentError, "404 Not Found"))

	failed, err := store.FailedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, StatusPermanentError, failed[0].Status)
	assert.Equal(t, "404 Not Found", failed[0].Error)

	// Idempotent: applying the same update again succeeds.
	require.NoError(t, store.UpdateStatus(ctx, 7, "ab", StatusPermanentError, "404 Not Found"))

	err = store.UpdateStatus(ctx, 999, "ab", StatusDownloaded, "")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.UpdateStatus(ctx, 7, "wrong-mbid", StatusDownloaded, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetAndBulkMarkDownloaded(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.BulkInsert(ctx, []Item{
		{CAAID: 1, ReleaseMBID: "aa", Status: StatusDownloaded},
		{CAAID: 2, ReleaseMBID: "ab", Status: StatusTempError},
		{CAAID: 3, ReleaseMBID: "ac", Status: StatusNotDownloaded},
	})
	require.NoError(t, err)

	require.NoError(t, store.ResetAllToNotDownloaded(ctx))

	// Ids not present (42) are silently ignored.
	require.NoError(t, store.BulkMarkDownloaded(ctx, []int64{1, 3, 42}))

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[StatusDownloaded])
	assert.Equal(t, int64(1), counts[StatusNotDownloaded])
	assert.Equal(t, int64(0), counts[StatusTempError])
}

func TestBulkMarkDownloaded_EmptyAndOversized(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.BulkMarkDownloaded(ctx, nil))

	oversized := make([]int64, markInChunkLimit+1)
	err := store.BulkMarkDownloaded(ctx, oversized)
	assert.Error(t, err)
}

func TestCheckpoint_ReplaceOnWrite(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, ok, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetCheckpoint(ctx, first))

	got, ok, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(first))

	second := first.Add(48 * time.Hour)
	require.NoError(t, store.SetCheckpoint(ctx, second))

	got, ok, err = store.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(second))
}

func TestRequeueTempErrors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.BulkInsert(ctx, []Item{
		{CAAID: 1, ReleaseMBID: "aa", Status: StatusTempError, Error: "timeout"},
		{CAAID: 2, ReleaseMBID: "ab", Status: StatusPermanentError, Error: "403"},
		{CAAID: 3, ReleaseMBID: "ac", Status: StatusDownloaded},
	})
	require.NoError(t, err)

	n, err := store.RequeueTempErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusNotDownloaded])
	// PERMANENT_ERROR rows are never requeued automatically.
	assert.Equal(t, int64(1), counts[StatusPermanentError])
	assert.Equal(t, int64(1), counts[StatusDownloaded])
}
