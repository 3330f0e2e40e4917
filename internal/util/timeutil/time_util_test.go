package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStamp(t *testing.T) {
	require.Equal(t,
		"2022-11-09T10:11:12.000Z",
		Stamp(time.Date(2022, 11, 9, 10, 11, 12, 0, time.UTC)),
	)

	// Sub-millisecond precision is dropped; non-UTC times are converted.
	require.Equal(t,
		"2022-11-09T10:11:12.345Z",
		Stamp(time.Date(2022, 11, 9, 11, 11, 12, 345_678_912, time.FixedZone("CET", 3600))),
	)
}

func TestParseStamp(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		original := time.Date(2022, 11, 9, 10, 11, 12, 345_000_000, time.UTC)
		parsed, ok := ParseStamp(Stamp(original))
		require.True(t, ok)
		require.True(t, parsed.Equal(original))
	})

	t.Run("WithoutFraction", func(t *testing.T) {
		parsed, ok := ParseStamp("2022-11-09T10:11:12Z")
		require.True(t, ok)
		require.True(t, parsed.Equal(time.Date(2022, 11, 9, 10, 11, 12, 0, time.UTC)))
	})

	t.Run("WithOffset", func(t *testing.T) {
		parsed, ok := ParseStamp("2022-11-09T11:11:12.000+01:00")
		require.True(t, ok)
		require.True(t, parsed.Equal(time.Date(2022, 11, 9, 10, 11, 12, 0, time.UTC)))
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, s := range []string{"", "not a time", "2022-11-09", "1668075072"} {
			_, ok := ParseStamp(s)
			require.False(t, ok, "expected %q not to parse", s)
		}
	})
}
