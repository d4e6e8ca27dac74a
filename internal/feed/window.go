// Package feed implements the feed curation engine: it turns a viewer
// identity and a feed type into an ordered list of post references by
// querying the Bluesky AppView.
package feed

import "time"

// DefaultViewerLocation is the timezone viewers are assumed to post in.
// The request carries no timezone signal, so every viewer is treated as
// UTC+9 for now.
// TODO: derive the offset from the viewer's profile description or
// language preference instead of assuming JST.
var DefaultViewerLocation = time.FixedZone("JST", 9*60*60)

// Window is a half-open [Since, Until) time range.
type Window struct {
	Since time.Time
	Until time.Time
}

// AnniversaryWindow returns the 24-hour window ending at the same
// wall-clock instant one calendar year before now. The date components
// are shifted back one year while the time of day is preserved, so leap
// years do not skew the boundary. Feb 29 inputs clamp to Feb 28 of the
// prior year.
//
// The resolver is timezone-naive: it works in whatever location now
// carries, and callers wanting a localized window pass a pre-adjusted
// reference instant.
func AnniversaryWindow(now time.Time) Window {
	year, month, day := now.Date()
	if month == time.February && day == 29 {
		day = 28
	}

	hour, min, sec := now.Clock()
	until := time.Date(year-1, month, day, hour, min, sec, now.Nanosecond(), now.Location())
	return Window{
		Since: until.Add(-24 * time.Hour),
		Until: until,
	}
}

// AnniversaryDayWindow returns the viewer's full calendar day one year
// before now: now is localized to loc, the local date is shifted back
// one calendar year (clamping Feb 29), and the window runs from that
// day's local midnight for a fixed 24 hours.
func AnniversaryDayWindow(now time.Time, loc *time.Location) Window {
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	since := AnniversaryWindow(dayStart).Until
	return Window{
		Since: since,
		Until: since.Add(24 * time.Hour),
	}
}

// Contains reports whether t falls inside the window. The lower bound is
// inclusive, the upper bound exclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}
