// Package routing provides travel-time oracles for the tracking engine: a
// local great-circle estimator and a client for an external distance-matrix
// service.
package routing

import (
	"context"
	"math"
	"time"

	"github.com/example/sharetrack/internal/tracking"
)

// Average speeds in km/h per travel mode, used by the local estimator.
var averageSpeeds = map[tracking.TravelMode]float64{
	tracking.TravelDriving:   30.0,
	tracking.TravelBicycling: 15.0,
	tracking.TravelWalking:   5.0,
}

// HaversineOracle estimates travel time from great-circle distance and a
// per-mode average speed. It needs no network and never fails, which makes
// it the fallback when no matrix service is configured.
type HaversineOracle struct{}

// Duration implements tracking.Oracle.
func (HaversineOracle) Duration(_ context.Context, origin, dest tracking.GeoPoint, mode tracking.TravelMode) (time.Duration, error) {
	speed, ok := averageSpeeds[mode]
	if !ok {
		speed = averageSpeeds[tracking.TravelDriving]
	}
	meterPerSecond := speed * 1000.0 / 3600.0
	sec := haversine(origin, dest) / meterPerSecond
	return time.Duration(sec) * time.Second, nil
}

func haversine(a, b tracking.GeoPoint) float64 {
	const earthRadius = 6371000.0
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return earthRadius * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
