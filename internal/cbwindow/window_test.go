package cbwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corkboard/corkboard/internal/util/timeutil"
)

// A stable current moment so tests aren't subject to the whims of the clock.
var stableTime = time.Date(2022, 11, 9, 10, 11, 12, 0, time.UTC)

func stampAgo(d time.Duration) string {
	return timeutil.Stamp(stableTime.Add(-d))
}

func TestPrune(t *testing.T) {
	events := []string{
		stampAgo(time.Hour),
		stampAgo(30 * 24 * time.Hour),
		stampAgo(32 * 24 * time.Hour), // beyond horizon
		"not a timestamp",
		stampAgo(RetentionHorizon), // exactly at horizon, kept
	}

	require.Equal(t, []string{
		stampAgo(time.Hour),
		stampAgo(30 * 24 * time.Hour),
		stampAgo(RetentionHorizon),
	}, Prune(events, stableTime))
}

func TestPruneEmpty(t *testing.T) {
	require.Empty(t, Prune(nil, stableTime))
	require.Empty(t, Prune([]string{}, stableTime))
}

func TestPruneMap(t *testing.T) {
	events := map[string]string{
		"user-recent":    stampAgo(2 * time.Hour),
		"user-expired":   stampAgo(40 * 24 * time.Hour),
		"user-malformed": "garbage",
	}

	PruneMap(events, stableTime)

	require.Equal(t, map[string]string{
		"user-recent": stampAgo(2 * time.Hour),
	}, events)
}

func TestCountWithin(t *testing.T) {
	events := []string{
		stampAgo(time.Hour),           // today
		stampAgo(26 * time.Hour),      // this week
		stampAgo(10 * 24 * time.Hour), // this month
		stampAgo(31 * 24 * time.Hour), // horizon edge, outside month
		"malformed",
	}

	require.Equal(t, 1, CountWithin(events, Day, stableTime))
	require.Equal(t, 2, CountWithin(events, Week, stableTime))
	require.Equal(t, 3, CountWithin(events, Month, stableTime))
}

func TestCountMapWithin(t *testing.T) {
	events := map[string]string{
		"a": stampAgo(time.Minute),
		"b": stampAgo(3 * 24 * time.Hour),
		"c": "malformed",
	}

	require.Equal(t, 1, CountMapWithin(events, Day, stableTime))
	require.Equal(t, 2, CountMapWithin(events, Week, stableTime))
}

func TestMark(t *testing.T) {
	t.Run("NewEvent", func(t *testing.T) {
		events := map[string]string{}
		require.False(t, Mark(events, "user1", stableTime))
		require.Equal(t, timeutil.Stamp(stableTime), events["user1"])
	})

	t.Run("RepeatIsNoOp", func(t *testing.T) {
		original := stampAgo(3 * time.Hour)
		events := map[string]string{"user1": original}

		require.True(t, Mark(events, "user1", stableTime))

		// The original timestamp stays; repeating doesn't refresh it.
		require.Equal(t, original, events["user1"])
	})

	t.Run("MalformedTreatedAsAbsent", func(t *testing.T) {
		events := map[string]string{"user1": "garbage"}
		require.False(t, Mark(events, "user1", stableTime))
		require.Equal(t, timeutil.Stamp(stableTime), events["user1"])
	})

	t.Run("NewAgainAfterEviction", func(t *testing.T) {
		events := map[string]string{"user1": stampAgo(35 * 24 * time.Hour)}

		// The write path prunes before marking, which evicts the expired
		// event and lets the repeat count as brand new.
		PruneMap(events, stableTime)
		require.False(t, Mark(events, "user1", stableTime))
		require.Equal(t, timeutil.Stamp(stableTime), events["user1"])
	})
}
