// Package cbwindow implements the sliding-window bookkeeping behind the
// board's "popular today / this week / this month" rankings. Engagement
// events are bare timestamp strings kept inside the document; nothing here
// runs on a timer. Retention is enforced by pruning on the request paths
// that touch the data, so staleness is bounded by traffic rather than by a
// wall-clock schedule.
package cbwindow

import (
	"time"

	"golang.org/x/exp/maps"

	"github.com/corkboard/corkboard/internal/util/timeutil"
)

// RetentionHorizon is how far back engagement events are kept. An event
// older than this can't contribute to any ranking window, so it's discarded
// the next time its collection is pruned.
const RetentionHorizon = 31 * 24 * time.Hour

// Ranking windows selectable on thread listings.
const (
	Day   = 24 * time.Hour
	Week  = 7 * 24 * time.Hour
	Month = 30 * 24 * time.Hour
)

// Prune returns events with everything older than the retention horizon
// removed. Malformed timestamps are dropped too: they can never be counted,
// so keeping them would only grow the document.
func Prune(events []string, now time.Time) []string {
	pruned := make([]string, 0, len(events))
	for _, event := range events {
		if within(event, RetentionHorizon, now) {
			pruned = append(pruned, event)
		}
	}
	return pruned
}

// PruneMap removes entries older than the retention horizon (or malformed)
// from an identity-keyed event map, mutating it in place.
func PruneMap(events map[string]string, now time.Time) {
	for _, id := range maps.Keys(events) {
		if !within(events[id], RetentionHorizon, now) {
			delete(events, id)
		}
	}
}

// CountWithin counts the events that happened inside the given window ending
// at now. Malformed timestamps count as absent.
func CountWithin(events []string, window time.Duration, now time.Time) int {
	var count int
	for _, event := range events {
		if within(event, window, now) {
			count++
		}
	}
	return count
}

// CountMapWithin is CountWithin over the values of an identity-keyed map.
func CountMapWithin(events map[string]string, window time.Duration, now time.Time) int {
	var count int
	for _, event := range events {
		if within(event, window, now) {
			count++
		}
	}
	return count
}

// Mark records an identity-keyed event. If id already carries a parseable
// timestamp the call is a no-op and reports true; the original timestamp is
// kept rather than refreshed, so an identity can't keep its event alive
// indefinitely by repeating it. Callers prune first, meaning an event older
// than the retention horizon has already been evicted and is recorded as
// new. A malformed existing value is treated as absent and overwritten.
func Mark(events map[string]string, id string, now time.Time) bool {
	if _, ok := timeutil.ParseStamp(events[id]); ok {
		return true
	}

	events[id] = timeutil.Stamp(now)
	return false
}

func within(event string, window time.Duration, now time.Time) bool {
	t, ok := timeutil.ParseStamp(event)
	if !ok {
		return false
	}

	return now.Sub(t) <= window
}
