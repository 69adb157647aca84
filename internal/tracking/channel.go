package tracking

// Event names shared with the realtime backend. The engine subscribes to
// the inbound set and emits the watch/connect requests.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"

	EventActivityChange          = "activity change"
	EventWayPointArrived         = "way point arrived"
	EventWayPointETAUpdated      = "way point eta updated"
	EventWayPointLocationUpdated = "way point location updated"
	EventWayPointDone            = "way point done"
	EventOrderDone               = "order done"
	EventOrderUpdate             = "order update"
	EventLocationUpdate          = "location update"

	EventWatchOrder      = "watch order"
	EventWatchDriver     = "watch driver"
	EventWatchWayPoint   = "watch way point"
	EventCustomerConnect = "customer connect"
)

// Channel is the push transport the engine rides on. The connection itself
// (handshake, reconnect backoff, transport selection) is the implementation's
// concern; the engine only emits requests and subscribes to events.
//
// On must replace any previously registered handler for the same event so
// that re-subscribing after a reconnect never duplicates deliveries. Emit
// must not block; the acknowledgment callback receives the raw result
// payload, or nil when no acknowledgment arrived.
type Channel interface {
	Emit(event string, payload any, ack func(result []byte)) error
	On(event string, handler func(payload []byte))
	Off(event string)
	Close() error
}
