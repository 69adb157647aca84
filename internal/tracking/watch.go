package tracking

// WatchKind identifies an entity the engine can subscribe to.
type WatchKind int

const (
	KindOrder WatchKind = iota
	KindDriver
	KindWayPoint
	watchKinds
)

func (k WatchKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindDriver:
		return "driver"
	case KindWayPoint:
		return "waypoint"
	default:
		return "unknown"
	}
}

type watchPhase int

const (
	notWatching watchPhase = iota
	watching
)

// watchState tracks the per-kind subscription state machine. Each kind moves
// NotWatching -> Watching on a successful watch acknowledgment and back on
// disconnects, waypoint arrival (driver) or done events (driver).
type watchState struct {
	phases [watchKinds]watchPhase
}

func (w *watchState) set(kind WatchKind, on bool) {
	if kind < 0 || kind >= watchKinds {
		return
	}
	if on {
		w.phases[kind] = watching
	} else {
		w.phases[kind] = notWatching
	}
}

func (w *watchState) watching(kind WatchKind) bool {
	if kind < 0 || kind >= watchKinds {
		return false
	}
	return w.phases[kind] == watching
}

// reset returns every kind to NotWatching. Any disconnect drops all
// subscriptions on the server side, so local state follows.
func (w *watchState) reset() {
	for i := range w.phases {
		w.phases[i] = notWatching
	}
}
