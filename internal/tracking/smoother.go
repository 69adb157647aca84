package tracking

// maxLocationFrames is the soft capacity of the animation queue. The queue
// may grow to twice this between drain ticks; beyond that the oldest
// maxLocationFrames-1 points are discarded.
const maxLocationFrames = 50

// interpolationSteps points are generated between two samples, one per
// percent of the delta.
const interpolationSteps = 100

// smoother turns a sparse stream of raw samples into a dense queue of
// interpolated frames. Single writer (the dispatcher), single reader (the
// animation timer); the owning session serializes both.
type smoother struct {
	frames    []GeoPoint
	lastKnown *GeoPoint
}

// ingest interpolates from the given start point to the sample and appends
// the resulting frames, always terminating on the exact sample. Consecutive
// duplicate points are skipped.
func (sm *smoother) ingest(from GeoPoint, sample GeoPoint) {
	prev := from
	for step := 0; step < interpolationSteps; step++ {
		pct := float64(step) / interpolationSteps
		cur := GeoPoint{
			Lat: from.Lat + pct*(sample.Lat-from.Lat),
			Lng: from.Lng + pct*(sample.Lng-from.Lng),
		}
		if cur != prev {
			sm.frames = append(sm.frames, cur)
			prev = cur
		}
	}
	sm.frames = append(sm.frames, sample)
}

// origin picks the point interpolation starts from: the tail of the queue,
// then the last emitted frame. ok is false on a cold start with neither.
func (sm *smoother) origin() (GeoPoint, bool) {
	if n := len(sm.frames); n > 0 {
		return sm.frames[n-1], true
	}
	if sm.lastKnown != nil {
		return *sm.lastKnown, true
	}
	return GeoPoint{}, false
}

// next prunes an over-full queue and pops the oldest frame. The prune keeps
// FIFO order of the survivors so the animation never jumps backwards.
func (sm *smoother) next() (GeoPoint, bool) {
	for len(sm.frames) > 2*maxLocationFrames {
		sm.frames = sm.frames[maxLocationFrames-1:]
	}
	if len(sm.frames) == 0 {
		return GeoPoint{}, false
	}
	point := sm.frames[0]
	sm.frames = sm.frames[1:]
	sm.lastKnown = &point
	return point, true
}

// emit records a frame delivered without interpolation (cold start).
func (sm *smoother) emit(point GeoPoint) {
	sm.lastKnown = &point
}

func (sm *smoother) reset() {
	sm.frames = nil
	sm.lastKnown = nil
}
