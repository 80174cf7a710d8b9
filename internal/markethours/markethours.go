// Package markethours tracks the forex trading week. The market trades
// continuously from the Sydney open on Sunday evening UTC until the New
// York close on Friday evening UTC, with no intraday breaks.
package markethours

import (
	"fmt"
	"time"
)

// Week boundaries in UTC.
const (
	OpenHourUTC  = 21 // Sunday 21:00 UTC
	CloseHourUTC = 21 // Friday 21:00 UTC
)

// IsMarketOpen returns true if t falls inside the forex trading week.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return u.Hour() >= OpenHourUTC
	case time.Friday:
		return u.Hour() < CloseHourUTC
	default:
		return true
	}
}

// NextOpen returns the next Sunday open. If the market is currently open,
// it returns the open of the following week.
func NextOpen(t time.Time) time.Time {
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), OpenHourUTC, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Sunday || !d.After(u) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// NextClose returns the next Friday close at or after t.
func NextClose(t time.Time) time.Time {
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), CloseHourUTC, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Friday || !d.After(u) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// TimeUntilOpen returns the duration until the next weekly open.
// Returns 0 if the market is already open.
func TimeUntilOpen(t time.Time) time.Duration {
	if IsMarketOpen(t) {
		return 0
	}
	return NextOpen(t).Sub(t.UTC())
}

// TimeUntilClose returns the duration until the weekly close.
// Returns 0 if the market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	if !IsMarketOpen(t) {
		return 0
	}
	return NextClose(t).Sub(t.UTC())
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed — opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t.UTC())))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
