package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed set of items from memory.
type fakeSource struct {
	items   []ledger.Item
	maxDate *time.Time
}

func (f *fakeSource) CountAll(ctx context.Context) (int64, error) {
	return int64(len(f.items)), nil
}

func (f *fakeSource) StreamAll(ctx context.Context, batchSize int, fn func(items []ledger.Item) error) error {
	return f.stream(f.items, batchSize, fn)
}

func (f *fakeSource) StreamSince(ctx context.Context, since time.Time, batchSize int, fn func(items []ledger.Item) error) error {
	var filtered []ledger.Item
	for _, item := range f.items {
		if item.DateUploaded != nil && item.DateUploaded.After(since) {
			filtered = append(filtered, item)
		}
	}
	return f.stream(filtered, batchSize, fn)
}

func (f *fakeSource) MaxDateUploaded(ctx context.Context) (time.Time, bool, error) {
	if f.maxDate == nil {
		return time.Time{}, false, nil
	}
	return *f.maxDate, true, nil
}

func (f *fakeSource) stream(items []ledger.Item, batchSize int, fn func(items []ledger.Item) error) error {
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "caa_backup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ts(day int) *time.Time {
	t := time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestRunFull(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	source := &fakeSource{
		items: []ledger.Item{
			{CAAID: 1, ReleaseMBID: "aa11", Status: ledger.StatusNotDownloaded, DateUploaded: ts(1)},
			{CAAID: 2, ReleaseMBID: "bb22", Status: ledger.StatusNotDownloaded, DateUploaded: ts(2)},
			{CAAID: 3, ReleaseMBID: "cc33", Status: ledger.StatusNotDownloaded, DateUploaded: ts(3)},
		},
		maxDate: ts(3),
	}

	syncer := NewSyncer(store, source, 2)
	require.NoError(t, syncer.RunFull(ctx))

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[ledger.StatusNotDownloaded])

	checkpoint, ok, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, checkpoint.Equal(*ts(3)))
}

func TestRunIncremental_OnlyNewRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	source := &fakeSource{
		items: []ledger.Item{
			{CAAID: 1, ReleaseMBID: "aa11", Status: ledger.StatusNotDownloaded, DateUploaded: ts(1)},
			{CAAID: 2, ReleaseMBID: "bb22", Status: ledger.StatusNotDownloaded, DateUploaded: ts(5)},
		},
		maxDate: ts(5),
	}
	syncer := NewSyncer(store, source, 10)

	// Simulate a previous import that saw everything up to day 3.
	_, err := store.BulkInsert(ctx, []ledger.Item{
		{CAAID: 1, ReleaseMBID: "aa11", Status: ledger.StatusDownloaded, DateUploaded: ts(1)},
	})
	require.NoError(t, err)
	require.NoError(t, store.SetCheckpoint(ctx, *ts(3)))

	require.NoError(t, syncer.RunIncremental(ctx))

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	// The already-downloaded row is untouched; only caa_id 2 was added.
	assert.Equal(t, int64(1), counts[ledger.StatusDownloaded])
	assert.Equal(t, int64(1), counts[ledger.StatusNotDownloaded])

	checkpoint, ok, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, checkpoint.Equal(*ts(5)))
}

func TestRunIncremental_NoNewRecordsLeavesCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	source := &fakeSource{
		items: []ledger.Item{
			{CAAID: 1, ReleaseMBID: "aa11", Status: ledger.StatusNotDownloaded, DateUploaded: ts(1)},
		},
		maxDate: ts(9),
	}
	syncer := NewSyncer(store, source, 10)

	require.NoError(t, store.SetCheckpoint(ctx, *ts(4)))
	require.NoError(t, syncer.RunIncremental(ctx))

	checkpoint, ok, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, checkpoint.Equal(*ts(4)), "checkpoint must not move when nothing was fetched")
}

func TestRunIncremental_TwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	source := &fakeSource{
		items: []ledger.Item{
			{CAAID: 1, ReleaseMBID: "aa11", Status: ledger.StatusNotDownloaded, DateUploaded: ts(2)},
			{CAAID: 2, ReleaseMBID: "bb22", Status: ledger.StatusNotDownloaded, DateUploaded: ts(3)},
		},
		maxDate: ts(3),
	}
	syncer := NewSyncer(store, source, 10)

	require.NoError(t, syncer.RunIncremental(ctx))
	first, err := store.CountsByStatus(ctx)
	require.NoError(t, err)

	require.NoError(t, syncer.RunIncremental(ctx))
	second, err := store.CountsByStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunIncremental_NoCheckpointImportsEverything(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// caa_id 3 has no upload date. The first pass must still import it: a
	// date-filtered query would drop it, and the checkpoint set afterwards
	// would hide it from every later pass.
	source := &fakeSource{
		items: []ledger.Item{
			{CAAID: 1, ReleaseMBID: "aa11", Status: ledger.StatusNotDownloaded, DateUploaded: ts(1)},
			{CAAID: 2, ReleaseMBID: "bb22", Status: ledger.StatusNotDownloaded, DateUploaded: ts(2)},
			{CAAID: 3, ReleaseMBID: "cc33", Status: ledger.StatusNotDownloaded},
		},
		maxDate: ts(2),
	}
	syncer := NewSyncer(store, source, 10)

	require.NoError(t, syncer.RunIncremental(ctx))

	n, err := store.CountByStatus(ctx, ledger.StatusNotDownloaded)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Subsequent passes use the checkpoint and the date filter again.
	require.NoError(t, syncer.RunIncremental(ctx))
	n, err = store.CountByStatus(ctx, ledger.StatusNotDownloaded)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
