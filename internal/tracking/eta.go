package tracking

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// ETASource says where the displayed ETA comes from.
type ETASource string

const (
	// ETASourceServer derives minutes from the authoritative arrival
	// timestamp the backend supplied.
	ETASourceServer ETASource = "server"
	// ETASourceClient computes minutes through the routing oracle.
	ETASourceClient ETASource = "client"
)

// ETAMethod selects how the consumer renders the estimate.
type ETAMethod string

const (
	ETAMethodAbsolute  ETAMethod = "absolute"
	ETAMethodCountdown ETAMethod = "countdown"
	ETAMethodSmart     ETAMethod = "smart"
)

const (
	// etaStaleAfter is the drain-side trigger: frames older than this force
	// a recomputation.
	etaStaleAfter = 10 * time.Minute

	// serverTrustMinutes: once the server-supplied ETA decays to this many
	// minutes the engine stops trusting it and switches to the oracle for
	// every later computation. The switch is monotonic within a session.
	serverTrustMinutes = 10

	// defaultMethodThresholdMinutes drives the smart/default method rule:
	// above it the absolute clock time reads better, at or below a
	// countdown does.
	defaultMethodThresholdMinutes = 30
)

// etaState is owned exclusively by the estimator paths; lastUpdate stays
// zero until the first computation.
type etaState struct {
	minutes     *int
	lastUpdate  time.Time
	source      ETASource
	method      ETAMethod
	mode        TravelMode
	force       bool
	framesSince int
}

// LastKnownETA returns the current estimate in minutes. With a server
// source the value counts down against the wall clock.
func (s *Session) LastKnownETA() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.eta.source == ETASourceServer && s.mu.cfg != nil {
		if ts, ok := s.mu.cfg.serverETA(); ok {
			return int(math.Floor(ts.Sub(s.clock.Now()).Minutes())), true
		}
	}
	if s.mu.eta.minutes != nil {
		return *s.mu.eta.minutes, true
	}
	return 0, false
}

// ETAMethod returns the currently selected display method.
func (s *Session) ETAMethod() ETAMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.eta.method
}

// SetETAMethod pins the display method, bypassing the smart selection.
func (s *Session) SetETAMethod(method ETAMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.eta.method = method
}

func (s *Session) startETALoopLocked() {
	if s.mu.etaStop != nil {
		close(s.mu.etaStop)
	}
	stop := make(chan struct{})
	s.mu.etaStop = stop
	go s.runETALoop(stop)
}

// runETALoop fires the periodic recomputation and a one-shot bootstrap 3s
// after the driver watch starts, covering sessions where no location sample
// arrives promptly.
func (s *Session) runETALoop(stop <-chan struct{}) {
	bootstrap := time.NewTimer(etaBootstrapDelay)
	defer bootstrap.Stop()
	ticker := time.NewTicker(etaRecomputePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-bootstrap.C:
			s.etaBootstrap()
		case <-ticker.C:
			s.etaTick()
		}
	}
}

func (s *Session) etaBootstrap() {
	s.mu.Lock()
	pending := s.mu.eta.lastUpdate.IsZero() && s.mu.watch.watching(KindDriver)
	origin := s.currentPointLocked()
	s.mu.Unlock()
	if pending {
		s.calculateETA(origin, true)
	}
}

// etaTick recomputes when the estimate is older than a minute while the
// driver is actively watched.
func (s *Session) etaTick() {
	s.mu.Lock()
	if !s.mu.watch.watching(KindDriver) {
		s.mu.Unlock()
		s.log.Debug("eta calculation - no current tracking")
		return
	}
	due := s.mu.eta.minutes != nil && !s.mu.eta.lastUpdate.IsZero() &&
		s.clock.Now().Sub(s.mu.eta.lastUpdate) > etaRecomputePeriod
	origin := s.currentPointLocked()
	s.mu.Unlock()
	if due {
		s.calculateETA(origin, false)
	}
}

func (s *Session) currentPointLocked() GeoPoint {
	if s.mu.cfg == nil {
		return GeoPoint{}
	}
	return GeoPoint{Lat: s.mu.cfg.CurrentLat, Lng: s.mu.cfg.CurrentLng}
}

// calculateETA is the single recomputation path. With a server source it
// derives the remaining minutes from the server timestamp; a decayed value
// flips the source to client (at most once per invocation) and continues
// into the oracle query. Oracle queries complete asynchronously.
func (s *Session) calculateETA(origin GeoPoint, activityAlert bool) {
	s.mu.Lock()
	if !s.mu.watch.watching(KindDriver) {
		s.mu.Unlock()
		return
	}
	cfg := s.configLocked()
	dest := GeoPoint{Lat: cfg.DestinationLat, Lng: cfg.DestinationLng}
	if origin.Zero() || dest.Zero() {
		s.mu.Unlock()
		s.log.Debug("no origin or destination for eta")
		return
	}
	now := s.clock.Now()
	s.mu.eta.lastUpdate = now

	if s.mu.eta.source == ETASourceServer {
		ts, ok := cfg.serverETA()
		if !ok {
			s.mu.eta.source = ETASourceClient
		} else {
			minutes := int(math.Floor(ts.Sub(now).Minutes()))
			if minutes <= 1 {
				// The server value is about to hit zero; stop trusting it
				// and ask the oracle instead, before reporting anything.
				s.mu.eta.source = ETASourceClient
			} else {
				if minutes <= serverTrustMinutes {
					s.mu.eta.source = ETASourceClient
				}
				s.mu.eta.minutes = &minutes
				s.mu.eta.method = ""
				s.refreshETAMethodLocked(cfg)
				cb := s.mu.cbs.OnETAUpdate
				s.mu.Unlock()

				etaRecomputeTotal.WithLabelValues(string(ETASourceServer)).Inc()
				s.notifyETAMethodChanged()
				s.alertETA(activityAlert, minutes)
				if cb != nil {
					m := minutes
					cb(&m)
				}
				return
			}
		}
	}

	mode := s.mu.eta.mode
	gen := s.mu.gen
	cb := s.mu.cbs.OnETAUpdate
	s.mu.Unlock()

	if s.oracle == nil {
		if cb != nil {
			cb(nil)
		}
		return
	}
	go func() {
		duration, err := s.oracle.Duration(context.Background(), origin, dest, mode)
		s.onOracleResult(gen, duration, err, activityAlert)
	}()
}

// onOracleResult applies an asynchronous oracle completion. Failures report
// an unknown ETA without touching the stored estimate; unchanged values
// stay silent.
func (s *Session) onOracleResult(gen uint64, duration time.Duration, err error, activityAlert bool) {
	s.mu.Lock()
	if gen != s.mu.gen {
		s.mu.Unlock()
		return
	}
	cb := s.mu.cbs.OnETAUpdate
	if err != nil {
		s.mu.Unlock()
		s.log.Info("eta computation failed", zap.Error(err))
		if cb != nil {
			cb(nil)
		}
		return
	}
	minutes := int(duration / time.Minute)
	changed := s.mu.eta.minutes == nil || *s.mu.eta.minutes != minutes
	if changed {
		s.mu.eta.minutes = &minutes
	}
	s.mu.Unlock()

	etaRecomputeTotal.WithLabelValues(string(ETASourceClient)).Inc()
	if changed {
		s.alertETA(activityAlert, minutes)
		if cb != nil {
			m := minutes
			cb(&m)
		}
	}
}

func (s *Session) alertETA(activityAlert bool, minutes int) {
	if activityAlert {
		s.mu.Lock()
		mode := s.mu.eta.mode
		s.mu.Unlock()
		s.alert(map[string]any{"alert_type": alertETACalculated, "updated_eta": minutes, "driver_activity": string(mode)})
		return
	}
	s.alert(map[string]any{"alert_type": alertETARefreshed, "updated_eta": minutes})
}

// refreshETAMethodLocked applies the method selection policy. A pinned
// method is only re-affirmed; smart (or unset) methods derive absolute vs
// countdown from the threshold. The return value tells the caller to fire
// the method-changed callback once outside the lock.
func (s *Session) refreshETAMethodLocked(cfg *SharedConfig) bool {
	if cfg != nil && cfg.ETADisplay != nil && cfg.ETADisplay.Method != "" {
		s.mu.eta.method = ETAMethod(cfg.ETADisplay.Method)
	}
	last := 0
	if s.mu.eta.minutes != nil {
		last = *s.mu.eta.minutes
	}
	switch s.mu.eta.method {
	case ETAMethodSmart:
		threshold := float64(defaultMethodThresholdMinutes)
		if cfg != nil && cfg.ETADisplay != nil && cfg.ETADisplay.Threshold != nil {
			threshold = *cfg.ETADisplay.Threshold
		}
		if float64(last) > threshold {
			s.mu.eta.method = ETAMethodAbsolute
		} else {
			s.mu.eta.method = ETAMethodCountdown
		}
	case "":
		if last > defaultMethodThresholdMinutes {
			s.mu.eta.method = ETAMethodAbsolute
		} else {
			s.mu.eta.method = ETAMethodCountdown
		}
	}
	return true
}

func (s *Session) notifyETAMethodChanged() {
	s.mu.Lock()
	cb := s.mu.cbs.OnETAMethodChanged
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}
