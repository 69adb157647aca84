package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIngestEndsOnExactSample(t *testing.T) {
	sm := &smoother{}
	from := GeoPoint{Lat: 10, Lng: 10}
	sample := GeoPoint{Lat: 11, Lng: 11}
	sm.ingest(from, sample)

	require.NotEmpty(t, sm.frames)
	require.Equal(t, sample, sm.frames[len(sm.frames)-1])
}

func TestIngestDeduplicatesIdenticalSteps(t *testing.T) {
	sm := &smoother{}
	point := GeoPoint{Lat: 10, Lng: 10}
	// Zero delta means every interpolated step equals the start point.
	sm.ingest(point, point)

	// One step survives dedupe plus the exact final sample.
	require.Len(t, sm.frames, 2)
}

func TestIngestProducesMonotonicPath(t *testing.T) {
	sm := &smoother{}
	sm.ingest(GeoPoint{Lat: 0, Lng: 0}, GeoPoint{Lat: 1, Lng: 0})

	prev := -1.0
	for _, frame := range sm.frames {
		require.Greater(t, frame.Lat, prev)
		prev = frame.Lat
	}
}

func TestOriginPrefersQueueTail(t *testing.T) {
	sm := &smoother{}
	_, ok := sm.origin()
	require.False(t, ok)

	sm.emit(GeoPoint{Lat: 1, Lng: 1})
	from, ok := sm.origin()
	require.True(t, ok)
	require.Equal(t, GeoPoint{Lat: 1, Lng: 1}, from)

	sm.ingest(GeoPoint{Lat: 1, Lng: 1}, GeoPoint{Lat: 2, Lng: 2})
	from, ok = sm.origin()
	require.True(t, ok)
	require.Equal(t, GeoPoint{Lat: 2, Lng: 2}, from)
}

func TestNextPopsInOrderAndTracksLastKnown(t *testing.T) {
	sm := &smoother{}
	sm.ingest(GeoPoint{Lat: 0, Lng: 0}, GeoPoint{Lat: 1, Lng: 1})

	first, ok := sm.next()
	require.True(t, ok)
	second, ok := sm.next()
	require.True(t, ok)
	require.Less(t, first.Lat, second.Lat)
	require.NotNil(t, sm.lastKnown)
	require.Equal(t, second, *sm.lastKnown)
}

func TestNextPrunesOverfullQueue(t *testing.T) {
	sm := &smoother{}
	for i := 0; i < 2*maxLocationFrames+10; i++ {
		sm.frames = append(sm.frames, GeoPoint{Lat: float64(i), Lng: 1})
	}

	point, ok := sm.next()
	require.True(t, ok)
	// The oldest maxLocationFrames-1 points are dropped before popping.
	require.Equal(t, float64(maxLocationFrames-1), point.Lat)
	require.LessOrEqual(t, len(sm.frames), 2*maxLocationFrames)

	// Survivors stay in FIFO order.
	next, ok := sm.next()
	require.True(t, ok)
	require.Greater(t, next.Lat, point.Lat)
}

func TestNextOnEmptyQueue(t *testing.T) {
	sm := &smoother{}
	_, ok := sm.next()
	require.False(t, ok)
}

func TestResetClearsEverything(t *testing.T) {
	sm := &smoother{}
	sm.ingest(GeoPoint{Lat: 0, Lng: 0}, GeoPoint{Lat: 1, Lng: 1})
	sm.reset()
	require.Empty(t, sm.frames)
	require.Nil(t, sm.lastKnown)
}
