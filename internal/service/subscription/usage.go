package subscription

import "time"

// ResolveUsageWindow decides whether the stored usage counter belongs to an
// earlier calendar month and returns the start of the current window.
// Rollover is identified by comparing month/year of the stored reset time to
// now, never by a scheduled reset job, which makes the read path
// self-healing: the first read in a new month resets the counter.
func ResolveUsageWindow(now, lastReset time.Time) (shouldReset bool, windowStart time.Time) {
	windowStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	if lastReset.IsZero() {
		return true, windowStart
	}

	shouldReset = lastReset.Year() != now.Year() || lastReset.Month() != now.Month()

	return shouldReset, windowStart
}
