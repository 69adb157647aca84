package tracking

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlexBoolAcceptsStringsAndBooleans(t *testing.T) {
	var cfg SharedConfig
	require.NoError(t, json.Unmarshal([]byte(`{"expired":"true","done":false}`), &cfg))
	require.True(t, cfg.Expired.Bool())
	require.False(t, cfg.Done.Bool())

	require.NoError(t, json.Unmarshal([]byte(`{"expired":true,"done":"1"}`), &cfg))
	require.True(t, cfg.Expired.Bool())
	require.True(t, cfg.Done.Bool())
}

func TestFillIsFillIfAbsent(t *testing.T) {
	cfg := &SharedConfig{OrderUUID: "order-1", WayPointID: 5}
	cfg.fill("order-2", "share-1", "driver-1", 9)

	require.Equal(t, "order-1", cfg.OrderUUID)
	require.Equal(t, "share-1", cfg.ShareUUID)
	require.Equal(t, "driver-1", cfg.DriverUUID)
	require.Equal(t, int64(5), cfg.WayPointID)
}

func TestServerETAParsing(t *testing.T) {
	cfg := &SharedConfig{ETA: "2026-08-30T10:00:00Z"}
	ts, ok := cfg.serverETA()
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), ts)

	_, ok = (&SharedConfig{}).serverETA()
	require.False(t, ok)
	_, ok = (&SharedConfig{ETA: "noon-ish"}).serverETA()
	require.False(t, ok)
}

func TestTravelModeForActivity(t *testing.T) {
	require.Equal(t, TravelWalking, travelModeForActivity(ActivityWalking))
	require.Equal(t, TravelWalking, travelModeForActivity(ActivityRunning))
	require.Equal(t, TravelBicycling, travelModeForActivity(ActivityBicycle))
	require.Equal(t, TravelDriving, travelModeForActivity(ActivityDriving))
	require.Equal(t, TravelDriving, travelModeForActivity(ActivityUnknown))
	require.Equal(t, TravelDriving, travelModeForActivity(42))
}

func TestRewriteAssetPaths(t *testing.T) {
	order := &Order{DriverImage: "/images/driver.png"}
	order.rewriteAssetPaths("https://cdn.example.com/")
	require.Equal(t, "https://cdn.example.com/images/driver.png", order.DriverImage)

	absolute := &Order{DriverImage: "https://elsewhere.example.com/d.png"}
	absolute.rewriteAssetPaths("https://cdn.example.com")
	require.Equal(t, "https://elsewhere.example.com/d.png", absolute.DriverImage)
}

func TestLocationMessagePoint(t *testing.T) {
	push := LocationMessage{Lat: 1, Lng: 2}
	require.Equal(t, GeoPoint{Lat: 1, Lng: 2}, push.Point())

	pull := LocationMessage{CurrentLat: 3, CurrentLng: 4}
	require.Equal(t, GeoPoint{Lat: 3, Lng: 4}, pull.Point())
}

func TestGeoPointZero(t *testing.T) {
	require.True(t, GeoPoint{Lat: 0, Lng: 5}.Zero())
	require.True(t, GeoPoint{Lat: 5, Lng: 0}.Zero())
	require.False(t, GeoPoint{Lat: 5, Lng: 5}.Zero())
}

func TestDecodeResult(t *testing.T) {
	require.Nil(t, decodeResult(nil))
	require.Nil(t, decodeResult([]byte("not json")))

	result := decodeResult([]byte(`{"success":true,"shared_location":{"uuid":"s1"}}`))
	require.NotNil(t, result)
	require.True(t, result.Success)
	require.Equal(t, "s1", result.SharedLocation.UUID)
}
