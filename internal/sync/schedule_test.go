package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ads-optimizer/internal/store"
)

func testScheduler() *Scheduler {
	return &Scheduler{Rolling: true, DefaultShort: 1, DefaultMedium: 7, DefaultLong: 30}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestDueWindowsNeverSynced(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	account := &store.Account{ShortWindowDays: 1, MediumWindowDays: 7, LongWindowDays: 30}

	due := testScheduler().DueWindows(account, now)

	require.Len(t, due, 3)
	assert.Equal(t, WindowShort, due[0].Window)
	assert.Equal(t, 1, due[0].Days)
	assert.Equal(t, WindowMedium, due[1].Window)
	assert.Equal(t, 7, due[1].Days)
	assert.Equal(t, WindowLong, due[2].Window)
	assert.Equal(t, 30, due[2].Days)
}

func TestDueWindowsMediumOverdue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	account := &store.Account{
		ShortWindowDays:  1,
		MediumWindowDays: 7,
		LongWindowDays:   30,
		LastShortSyncAt:  timePtr(now.Add(-2 * time.Hour)),
		LastMediumSyncAt: timePtr(now.AddDate(0, 0, -8)),
		LastLongSyncAt:   timePtr(now.AddDate(0, 0, -3)),
	}

	due := testScheduler().DueWindows(account, now)

	require.Len(t, due, 1)
	assert.Equal(t, WindowMedium, due[0].Window)
	assert.Equal(t, 7, due[0].Days)
}

func TestDueWindowsNoneDueFallsBackToDefault(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	account := &store.Account{
		ShortWindowDays:  1,
		MediumWindowDays: 7,
		LongWindowDays:   30,
		LastShortSyncAt:  timePtr(now.Add(-2 * time.Hour)),
		LastMediumSyncAt: timePtr(now.AddDate(0, 0, -3)),
		LastLongSyncAt:   timePtr(now.AddDate(0, 0, -10)),
	}

	due := testScheduler().DueWindows(account, now)

	require.Len(t, due, 1)
	assert.Equal(t, WindowDefault, due[0].Window)
	assert.Equal(t, 1, due[0].Days)
}

func TestDueWindowsExactBoundaryIsDue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	account := &store.Account{
		ShortWindowDays:  1,
		MediumWindowDays: 7,
		LongWindowDays:   30,
		LastShortSyncAt:  timePtr(now.AddDate(0, 0, -1)),
		LastMediumSyncAt: timePtr(now.Add(-time.Hour)),
		LastLongSyncAt:   timePtr(now.Add(-time.Hour)),
	}

	due := testScheduler().DueWindows(account, now)

	require.Len(t, due, 1)
	assert.Equal(t, WindowShort, due[0].Window)
}

func TestDueWindowsRollingDisabled(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	sched := &Scheduler{Rolling: false, DefaultShort: 1, DefaultMedium: 7, DefaultLong: 30}
	account := &store.Account{ShortWindowDays: 1}

	due := sched.DueWindows(account, now)

	require.Len(t, due, 1)
	assert.Equal(t, WindowShort, due[0].Window)
	assert.Equal(t, 1, due[0].Days)
}

func TestDueWindowsAccountOverridesDayCounts(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	account := &store.Account{ShortWindowDays: 3, MediumWindowDays: 14, LongWindowDays: 60}

	due := testScheduler().DueWindows(account, now)

	require.Len(t, due, 3)
	assert.Equal(t, 3, due[0].Days)
	assert.Equal(t, 14, due[1].Days)
	assert.Equal(t, 60, due[2].Days)
}

func TestDueWindowsDefaultsFillZeroes(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	account := &store.Account{}

	due := testScheduler().DueWindows(account, now)

	require.Len(t, due, 3)
	assert.Equal(t, 1, due[0].Days)
	assert.Equal(t, 7, due[1].Days)
	assert.Equal(t, 30, due[2].Days)
}
