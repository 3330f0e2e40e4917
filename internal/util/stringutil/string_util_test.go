package stringutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleLongString(t *testing.T) {
	require.Equal(t,
		"not very long",
		SampleLong("not very long"),
	)

	// Exactly one hundred characters (not sampled).
	require.Equal(t,
		"****************************************************************************************************",
		SampleLong("****************************************************************************************************"),
	)

	// 101 characters (sampled).
	require.Equal(t,
		"************************************************** ... [TRUNCATED; total_length: 101 characters] ... *************************************************", //nolint:lll
		SampleLong("*****************************************************************************************************"),
	)
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "short", TruncateRunes("short", 80))
	require.Equal(t, "abc", TruncateRunes("abcdef", 3))
	require.Equal(t, "", TruncateRunes("abcdef", 0))

	// Multi-byte characters are kept whole rather than sliced mid-rune.
	require.Equal(t, "héll", TruncateRunes("héllo", 4))
	require.Equal(t, "日本", TruncateRunes("日本語", 2))
}
