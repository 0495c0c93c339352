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

type fakeLedger struct {
	sent   map[string]bool // recipientID|digestType|localDate
	calls  int
	failOn string
}

func (f *fakeLedger) HasSentOn(ctx context.Context, recipientID string, digestType types.DigestType, localDate string) (bool, error) {
	f.calls++
	if recipientID == f.failOn {
		return false, errors.New("ledger unavailable")
	}
	return f.sent[recipientID+"|"+string(digestType)+"|"+localDate], nil
}

func baseRecipient(id, tzID string, hour int) *types.Recipient {
	return &types.Recipient{
		ID:            id,
		Email:         id + "@example.com",
		Timezone:      tzID,
		Frequency:     types.FrequencyDaily,
		PreferredHour: hour,
		Subscribed:    true,
	}
}

func TestFilter_SelectsRecipientAtPreferredLocalHour(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)

	// 2026-08-28 10:00 in Berlin is 08:00 UTC.
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	recipients := []*types.Recipient{
		baseRecipient("rcp_berlin", "Europe/Berlin", 10),
		baseRecipient("rcp_tokyo", "Asia/Tokyo", 10), // 17:00 local, wrong hour
	}

	out, err := f.Filter(context.Background(), recipients, types.DigestDaily, now)
	require.NoError(t, err)

	require.Len(t, out.Eligible, 1)
	assert.Equal(t, "rcp_berlin", out.Eligible[0].Recipient.ID)
	assert.Equal(t, "2026-08-28", out.Eligible[0].LocalDate)
	assert.Equal(t, "Europe/Berlin", out.Eligible[0].ResolvedTimezone)
	assert.Equal(t, 1, out.Exclusions[types.ExcludedWrongHour])
}

func TestFilter_DatelineLocalDateDiffersFromUTC(t *testing.T) {
	// At 20:00 UTC on the 28th it is already 10:00 on the 29th in
	// Kiritimati (UTC+14). The queue entry must carry the recipient's
	// local date, not the UTC date.
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)

	now := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	out, err := f.Filter(context.Background(), []*types.Recipient{
		baseRecipient("rcp_kiri", "Pacific/Kiritimati", 10),
	}, types.DigestDaily, now)
	require.NoError(t, err)

	require.Len(t, out.Eligible, 1)
	assert.Equal(t, "2026-08-29", out.Eligible[0].LocalDate)
}

func TestFilter_CachedLastSentAtSameLocalDaySkipsLedger(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)

	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	r := baseRecipient("rcp_1", "Europe/Berlin", 10)
	earlier := now.Add(-2 * time.Hour) // same Berlin calendar day
	r.LastSentAt = &earlier

	out, err := f.Filter(context.Background(), []*types.Recipient{r}, types.DigestDaily, now)
	require.NoError(t, err)

	assert.Empty(t, out.Eligible)
	assert.Equal(t, 1, out.Exclusions[types.ExcludedAlreadySent])
	assert.Zero(t, ledger.calls, "cache hit must not consult the ledger")
}

func TestFilter_LedgerIsAuthoritativeWhenCacheIsStale(t *testing.T) {
	// The previous run appended a ledger row but crashed before
	// refreshing last_sent_at. The ledger check still excludes.
	ledger := &fakeLedger{sent: map[string]bool{
		"rcp_1|daily|2026-08-28": true,
	}}
	f := NewEligibilityFilter(ledger, nil)

	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	out, err := f.Filter(context.Background(), []*types.Recipient{
		baseRecipient("rcp_1", "Europe/Berlin", 10),
	}, types.DigestDaily, now)
	require.NoError(t, err)

	assert.Empty(t, out.Eligible)
	assert.Equal(t, 1, out.Exclusions[types.ExcludedAlreadySent])
	assert.Equal(t, 1, ledger.calls)
}

func TestFilter_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)

	// 10:00 UTC matches the preferred hour after the UTC fallback, so
	// the recipient is counted under invalid_timezone AND still eligible.
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	out, err := f.Filter(context.Background(), []*types.Recipient{
		baseRecipient("rcp_bad", "Mars/Olympus_Mons", 10),
	}, types.DigestDaily, now)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Exclusions[types.ExcludedInvalidTimezone])
	require.Len(t, out.Eligible, 1)
	assert.Equal(t, "UTC", out.Eligible[0].ResolvedTimezone)
	assert.Equal(t, "2026-08-28", out.Eligible[0].LocalDate)
}

func TestFilter_InvalidTimezoneWrongUTCHourIsExcluded(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)

	now := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	out, err := f.Filter(context.Background(), []*types.Recipient{
		baseRecipient("rcp_bad", "Mars/Olympus_Mons", 10),
	}, types.DigestDaily, now)
	require.NoError(t, err)

	assert.Empty(t, out.Eligible)
	assert.Equal(t, 1, out.Exclusions[types.ExcludedInvalidTimezone])
	assert.Equal(t, 1, out.Exclusions[types.ExcludedWrongHour])
}

func TestFilter_OptOutShortCircuits(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	unsubscribed := baseRecipient("rcp_1", "UTC", 10)
	unsubscribed.Subscribed = false
	never := baseRecipient("rcp_2", "UTC", 10)
	never.Frequency = types.FrequencyNever

	out, err := f.Filter(context.Background(), []*types.Recipient{unsubscribed, never}, types.DigestDaily, now)
	require.NoError(t, err)

	assert.Empty(t, out.Eligible)
	assert.Equal(t, 2, out.Exclusions[types.ExcludedOptedOut])
	assert.Zero(t, ledger.calls)
}

func TestFilter_WeeklyOnlyOnLocalSendDay(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)

	weekly := baseRecipient("rcp_w", "UTC", 10)
	weekly.Frequency = types.FrequencyWeekly

	// 2026-08-31 is a Monday.
	monday := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	out, err := f.Filter(context.Background(), []*types.Recipient{weekly}, types.DigestDaily, monday)
	require.NoError(t, err)
	assert.Len(t, out.Eligible, 1)

	friday := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	out, err = f.Filter(context.Background(), []*types.Recipient{weekly}, types.DigestDaily, friday)
	require.NoError(t, err)
	assert.Empty(t, out.Eligible)
	assert.Equal(t, 1, out.Exclusions[types.ExcludedOptedOut])
}

func TestFilter_BreakingReachesBreakingOnlySubscribers(t *testing.T) {
	ledger := &fakeLedger{}
	f := NewEligibilityFilter(ledger, nil)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	breakingOnly := baseRecipient("rcp_b", "UTC", 10)
	breakingOnly.Frequency = types.FrequencyBreakingOnly

	out, err := f.Filter(context.Background(), []*types.Recipient{breakingOnly}, types.DigestBreaking, now)
	require.NoError(t, err)
	assert.Len(t, out.Eligible, 1)

	// The same subscriber never gets the daily digest.
	out, err = f.Filter(context.Background(), []*types.Recipient{breakingOnly}, types.DigestDaily, now)
	require.NoError(t, err)
	assert.Empty(t, out.Eligible)
}

func TestFilter_LedgerErrorAborts(t *testing.T) {
	ledger := &fakeLedger{failOn: "rcp_1"}
	f := NewEligibilityFilter(ledger, nil)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	_, err := f.Filter(context.Background(), []*types.Recipient{
		baseRecipient("rcp_1", "UTC", 10),
	}, types.DigestDaily, now)
	assert.Error(t, err)
}
