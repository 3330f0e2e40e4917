package cbcooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var stableTime = time.Date(2022, 11, 9, 10, 11, 12, 0, time.UTC)

func TestLimiterCooldown(t *testing.T) {
	limiter := NewLimiter(30 * time.Second)

	require.True(t, limiter.AllowAt(stableTime, "1.2.3.4"))

	// Too soon.
	require.False(t, limiter.AllowAt(stableTime.Add(1*time.Second), "1.2.3.4"))
	require.False(t, limiter.AllowAt(stableTime.Add(29*time.Second), "1.2.3.4"))

	// Cooldown elapsed.
	require.True(t, limiter.AllowAt(stableTime.Add(30*time.Second), "1.2.3.4"))
}

func TestLimiterAddressesIndependent(t *testing.T) {
	limiter := NewLimiter(30 * time.Second)

	require.True(t, limiter.AllowAt(stableTime, "1.2.3.4"))
	require.True(t, limiter.AllowAt(stableTime, "5.6.7.8"))
	require.False(t, limiter.AllowAt(stableTime.Add(time.Second), "1.2.3.4"))
	require.False(t, limiter.AllowAt(stableTime.Add(time.Second), "5.6.7.8"))
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(0)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.AllowAt(stableTime, "1.2.3.4"))
	}
}
