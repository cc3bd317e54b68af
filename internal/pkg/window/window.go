// Package window resolves the concrete UTC time range a run fetches.
//
// The in-day/day-after asymmetry mirrors settlement-data availability:
// day-after data is only published for complete prior days, so that regime
// always resolves to yesterday's full 24h window regardless of when the run
// starts; in-day data trails the present, so that regime resolves to a
// trailing backfill window ending now.
package window

import (
	"time"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// Window is a concrete [Start, End] UTC range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ZeroWidth reports whether the window has collapsed to a single instant.
// Adapters must treat this as "fetch the latest point only", not an error.
func (w Window) ZeroWidth() bool {
	return !w.Start.Before(w.End)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Days returns the UTC midnights covering the window, one per calendar day,
// for providers that page by day.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start.Truncate(24 * time.Hour); d.Before(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	if len(days) == 0 {
		days = append(days, w.Start.Truncate(24*time.Hour))
	}
	return days
}

// Resolve computes the fetch window for a PVLive regime.
//
// day-after always resolves to the prior calendar day's full 24h window, no
// matter the invocation time. in-day resolves to [now-backfill, now].
func Resolve(now time.Time, regime model.Regime, backfill time.Duration) Window {
	now = now.UTC()
	if regime == model.RegimeDayAfter {
		midnight := now.Truncate(24 * time.Hour)
		return Window{Start: midnight.Add(-24 * time.Hour), End: midnight}
	}
	return Window{Start: now.Add(-backfill), End: now}
}

// Rolling returns [now-span, now], used by providers that publish a trailing
// revision window (Elia).
func Rolling(now time.Time, span time.Duration) Window {
	now = now.UTC()
	return Window{Start: now.Add(-span), End: now}
}

// Ahead returns [now, now+span] for forecast fetches (Ned NL forecasts).
func Ahead(now time.Time, span time.Duration) Window {
	now = now.UTC()
	return Window{Start: now, End: now.Add(span)}
}

// PriorDays returns the last n complete-ish days ending at the next UTC
// midnight, matching Ned NL's generation publication cadence.
func PriorDays(now time.Time, n int) Window {
	end := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	return Window{Start: end.AddDate(0, 0, -n), End: end}
}
