package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/types"
)

type fakeArchiveLedger struct {
	batches [][]*types.LedgerEntry
	deleted [][]string
	listErr error
}

func (f *fakeArchiveLedger) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.LedgerEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeArchiveLedger) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	f.deleted = append(f.deleted, ids)
	return int64(len(ids)), nil
}

type fakeArchiveSink struct {
	stored [][]byte
	counts []int
	err    error
}

func (f *fakeArchiveSink) Store(ctx context.Context, compressed []byte, entryCount int, oldest, newest time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, compressed)
	f.counts = append(f.counts, entryCount)
	return "arc_test", nil
}

type fakeQueuePurger struct {
	purged int64
	cutoff time.Time
}

func (f *fakeQueuePurger) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.purged, nil
}

func agedEntries(n int, base time.Time) []*types.LedgerEntry {
	out := make([]*types.LedgerEntry, n)
	for i := range out {
		out[i] = &types.LedgerEntry{
			ID:          "led_" + string(rune('a'+i)),
			RecipientID: "rcp_1",
			DigestType:  types.DigestDaily,
			LocalDate:   "2026-05-01",
			Status:      types.LedgerSent,
			SentAt:      base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestSweep_ArchivesAndDeletes(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ledger := &fakeArchiveLedger{batches: [][]*types.LedgerEntry{agedEntries(3, base)}}
	sink := &fakeArchiveSink{}
	purger := &fakeQueuePurger{purged: 12}

	m, err := NewMaintenance(ledger, sink, purger, MaintenanceConfig{BatchSize: 10}, nil)
	require.NoError(t, err)

	res, err := m.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.ArchivedEntries)
	assert.Equal(t, []string{"arc_test"}, res.ArchiveIDs)
	assert.Equal(t, int64(12), res.PurgedQueueRows)
	require.Len(t, ledger.deleted, 1)
	assert.Len(t, ledger.deleted[0], 3)
	assert.Equal(t, []int{3}, sink.counts)
}

func TestSweep_ArchiveRoundTrips(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := agedEntries(5, base)
	ledger := &fakeArchiveLedger{batches: [][]*types.LedgerEntry{entries}}
	sink := &fakeArchiveSink{}

	m, err := NewMaintenance(ledger, sink, &fakeQueuePurger{}, MaintenanceConfig{BatchSize: 10}, nil)
	require.NoError(t, err)

	_, err = m.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.stored, 1)

	decoded, err := DecodeArchive(sink.stored[0])
	require.NoError(t, err)
	require.Len(t, decoded, 5)
	assert.Equal(t, entries[0].ID, decoded[0].ID)
	assert.Equal(t, entries[4].SentAt.Unix(), decoded[4].SentAt.Unix())
}

func TestSweep_StoreFailureLeavesLedgerIntact(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ledger := &fakeArchiveLedger{batches: [][]*types.LedgerEntry{agedEntries(2, base)}}
	sink := &fakeArchiveSink{err: errors.New("archive store down")}

	m, err := NewMaintenance(ledger, sink, &fakeQueuePurger{}, MaintenanceConfig{}, nil)
	require.NoError(t, err)

	_, err = m.Sweep(context.Background())
	require.Error(t, err)
	assert.Empty(t, ledger.deleted, "rows must not be deleted before the archive is stored")
}

func TestSweep_WorksOffBacklogInBatches(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ledger := &fakeArchiveLedger{batches: [][]*types.LedgerEntry{
		agedEntries(2, base),
		agedEntries(2, base.Add(time.Hour)),
		agedEntries(1, base.Add(2 * time.Hour)),
	}}
	sink := &fakeArchiveSink{}

	m, err := NewMaintenance(ledger, sink, &fakeQueuePurger{}, MaintenanceConfig{BatchSize: 2}, nil)
	require.NoError(t, err)

	res, err := m.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.ArchivedEntries)
	assert.Len(t, ledger.deleted, 3)
}

func TestSweep_EmptyBacklogOnlyPurgesQueue(t *testing.T) {
	ledger := &fakeArchiveLedger{}
	sink := &fakeArchiveSink{}
	purger := &fakeQueuePurger{purged: 4}

	m, err := NewMaintenance(ledger, sink, purger, MaintenanceConfig{
		QueueRetention: 7 * 24 * time.Hour,
	}, nil)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC) }

	res, err := m.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.ArchivedEntries)
	assert.Equal(t, int64(4), res.PurgedQueueRows)
	assert.Equal(t, time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), purger.cutoff)
}
