package natschan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/sharetrack/internal/tracking"
)

func TestSubjectMapping(t *testing.T) {
	c := New(nil, Config{Prefix: "track.share-1"})
	require.Equal(t, "track.share-1.way.point.done", c.subject("way point done"))
	require.Equal(t, "track.share-1.connect", c.subject("connect"))

	bare := New(nil, Config{})
	require.Equal(t, "location.update", bare.subject("location update"))
}

func TestLifecycleHandlersHeldLocally(t *testing.T) {
	c := New(nil, Config{Prefix: "track.share-1"})

	// Without a connection nothing fires, but the handlers register and
	// replace without touching subscriptions.
	c.On(tracking.EventConnect, func([]byte) {})
	c.On(tracking.EventDisconnect, func([]byte) {})
	require.Empty(t, c.subs)
	require.NotNil(t, c.onConnect)
	require.NotNil(t, c.onDisconnect)

	c.Off(tracking.EventConnect)
	require.Nil(t, c.onConnect)

	require.NoError(t, c.Close())
	require.Nil(t, c.onDisconnect)
}

func TestFireLifecycleDeliversToHandler(t *testing.T) {
	c := New(nil, Config{})
	fired := 0
	c.On(tracking.EventConnect, func([]byte) { fired++ })

	c.fireLifecycle(tracking.EventConnect)
	require.Equal(t, 1, fired)

	// No disconnect handler registered; nothing to call.
	c.fireLifecycle(tracking.EventDisconnect)
	require.Equal(t, 1, fired)
}
