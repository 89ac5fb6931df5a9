package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnseenUserIsOffline(t *testing.T) {
	tracker := NewTracker()
	require.False(t, tracker.IsOnline("u1"))
}

func TestSetOnlineRoundTrip(t *testing.T) {
	tracker := NewTracker()

	tracker.SetOnline("u1", true)
	require.True(t, tracker.IsOnline("u1"))
	require.False(t, tracker.IsOnline("u2"))

	tracker.SetOnline("u1", false)
	require.False(t, tracker.IsOnline("u1"))
}

func TestOnlineIDsOnlyListsOnlineUsers(t *testing.T) {
	tracker := NewTracker()
	tracker.SetOnline("u1", true)
	tracker.SetOnline("u2", true)
	tracker.SetOnline("u2", false)
	tracker.SetOnline("u3", false)

	require.ElementsMatch(t, []string{"u1"}, tracker.OnlineIDs())
}
