package sync

import (
	"time"

	"github.com/ignite/ads-optimizer/internal/store"
)

// Window names one rolling metric lookback period.
type Window string

const (
	WindowShort  Window = "short"
	WindowMedium Window = "medium"
	WindowLong   Window = "long"
	// WindowDefault is the lightweight pass run when no rolling window
	// is due, so an account keeps refreshing between long windows. It
	// has no completion timestamp of its own.
	WindowDefault Window = "default"
)

// DueWindow pairs a window with its lookback day-count for report
// generation.
type DueWindow struct {
	Window Window
	Days   int
}

// Scheduler decides which metric windows are due per account. A window's
// day-count doubles as its refresh period: the 1-day window refreshes
// daily, the 7-day window weekly, the 30-day window monthly, each
// configurable per account.
type Scheduler struct {
	// Rolling false collapses scheduling to a short-window pass every
	// cycle.
	Rolling bool
	// DefaultShort/Medium/Long fill in for accounts with no configured
	// window lengths.
	DefaultShort  int
	DefaultMedium int
	DefaultLong   int
}

// DueWindows returns the windows due for the account at now, in
// short→medium→long order. All due windows run in the same cycle. When
// none is due (and rolling scheduling is on), a single default pass with
// the short day-count is returned instead.
func (s *Scheduler) DueWindows(account *store.Account, now time.Time) []DueWindow {
	shortDays := orDefault(account.ShortWindowDays, s.DefaultShort, 1)
	mediumDays := orDefault(account.MediumWindowDays, s.DefaultMedium, 7)
	longDays := orDefault(account.LongWindowDays, s.DefaultLong, 30)

	if !s.Rolling {
		return []DueWindow{{Window: WindowShort, Days: shortDays}}
	}

	var due []DueWindow
	if windowDue(account.LastShortSyncAt, shortDays, now) {
		due = append(due, DueWindow{Window: WindowShort, Days: shortDays})
	}
	if windowDue(account.LastMediumSyncAt, mediumDays, now) {
		due = append(due, DueWindow{Window: WindowMedium, Days: mediumDays})
	}
	if windowDue(account.LastLongSyncAt, longDays, now) {
		due = append(due, DueWindow{Window: WindowLong, Days: longDays})
	}

	if len(due) == 0 {
		due = append(due, DueWindow{Window: WindowDefault, Days: shortDays})
	}
	return due
}

// windowDue reports whether a window with the given refresh period is
// due: never synced, or last synced at least the period ago.
func windowDue(lastSync *time.Time, periodDays int, now time.Time) bool {
	if lastSync == nil {
		return true
	}
	return now.Sub(*lastSync) >= time.Duration(periodDays)*24*time.Hour
}

func orDefault(v, fallback, last int) int {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return last
}
