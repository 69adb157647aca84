package tracking

import (
	"context"
	"errors"
	"time"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Zero reports whether either coordinate is zero. A zero latitude or
// longitude coming from a device is treated as a GPS failure, not a
// position on the equator or the prime meridian.
func (p GeoPoint) Zero() bool {
	return p.Lat == 0 || p.Lng == 0
}

// TravelMode selects the movement profile used by the routing oracle.
type TravelMode string

const (
	TravelDriving   TravelMode = "driving"
	TravelWalking   TravelMode = "walking"
	TravelBicycling TravelMode = "bicycling"
)

// Driver activity codes reported by the backend.
const (
	ActivityUnknown   = 0
	ActivityNotMoving = 1
	ActivityWalking   = 2
	ActivityRunning   = 3
	ActivityBicycle   = 4
	ActivityDriving   = 5
)

// travelModeForActivity maps a driver activity code to the travel mode
// passed to the routing oracle. Unknown codes fall back to driving.
func travelModeForActivity(activity int) TravelMode {
	switch activity {
	case ActivityWalking, ActivityRunning:
		return TravelWalking
	case ActivityBicycle:
		return TravelBicycling
	default:
		return TravelDriving
	}
}

// ErrNoRoute is returned by routing oracles when no route exists between
// origin and destination. The engine reports it as an unknown ETA rather
// than a failure.
var ErrNoRoute = errors.New("no route found")

// Oracle estimates travel duration between two points. Implementations may
// be remote services or local approximations; the engine treats any error
// as "ETA unknown" and keeps its previously stored estimate.
type Oracle interface {
	Duration(ctx context.Context, origin, dest GeoPoint, mode TravelMode) (time.Duration, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
