package tracking

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// subscribeChannel (re)registers every inbound event handler. Off-then-On
// per event keeps re-subscription idempotent across reconnects: exactly one
// handler fires per event instance.
func (s *Session) subscribeChannel() {
	if s.channel == nil {
		s.log.Warn("no channel to subscribe")
		return
	}
	subscribe := func(event string, handler func(payload []byte)) {
		s.channel.Off(event)
		s.channel.On(event, func(payload []byte) {
			channelEventsTotal.WithLabelValues(event).Inc()
			handler(payload)
		})
	}

	subscribe(EventConnect, func([]byte) { s.onChannelConnected() })
	subscribe(EventDisconnect, func([]byte) { s.onChannelDisconnected() })
	subscribe(EventError, func(payload []byte) {
		s.log.Warn("channel error", zap.ByteString("payload", payload))
	})

	subscribe(EventActivityChange, s.onActivityChange)
	subscribe(EventWayPointArrived, func([]byte) { s.onWayPointArrived() })
	subscribe(EventWayPointETAUpdated, s.onWayPointETAUpdated)
	subscribe(EventWayPointLocationUpdated, s.onWayPointLocationUpdated)
	subscribe(EventWayPointDone, func([]byte) { s.onTaskDone() })
	subscribe(EventOrderDone, func([]byte) { s.onTaskDone() })
	subscribe(EventOrderUpdate, func(payload []byte) {
		var order Order
		if err := json.Unmarshal(payload, &order); err != nil {
			s.log.Warn("bad order update payload", zap.Error(err))
			return
		}
		s.handleOrderUpdate(&order)
	})
	subscribe(EventLocationUpdate, func(payload []byte) {
		var msg LocationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn("bad location update payload", zap.Error(err))
			return
		}
		s.handleLocationUpdate(msg, true)
	})
}

// onChannelConnected emits the credential handshake and resumes any watches
// the configuration already has identifiers for.
func (s *Session) onChannelConnected() {
	s.mu.Lock()
	s.mu.connected = true
	creds := s.mu.credentials
	cb := s.mu.cbs.OnConnect
	cfg := s.mu.cfg
	var cfgCopy SharedConfig
	if cfg != nil {
		cfgCopy = *cfg
	}
	watchingOrder := s.mu.watch.watching(KindOrder)
	watchingDriver := s.mu.watch.watching(KindDriver)
	watchingWayPoint := s.mu.watch.watching(KindWayPoint)
	s.mu.Unlock()

	if creds != (Credentials{}) {
		s.emit(EventCustomerConnect, creds, nil, func(result *Result) {
			s.log.Debug("customer connect acknowledged", zap.Any("result", result))
		})
	} else {
		s.log.Info("no credentials to connect customer")
	}

	if cb != nil {
		cb()
	}

	if cfg == nil {
		s.log.Info("channel connected - no configuration yet")
		return
	}
	if !watchingOrder && cfgCopy.OrderUUID != "" && cfgCopy.ShareUUID != "" && cfgCopy.WayPointID != 0 {
		s.WatchOrder(WatchOrderParams{
			OrderUUID:  cfgCopy.OrderUUID,
			ShareUUID:  cfgCopy.ShareUUID,
			WayPointID: cfgCopy.WayPointID,
		}, nil)
	}
	if !watchingDriver && cfgCopy.DriverUUID != "" && cfgCopy.ShareUUID != "" {
		s.WatchDriver(WatchDriverParams{
			ShareUUID:  cfgCopy.ShareUUID,
			DriverUUID: cfgCopy.DriverUUID,
		}, nil)
	}
	if !watchingWayPoint && cfgCopy.OrderUUID != "" && cfgCopy.WayPointID != 0 {
		s.WatchWayPoint(WatchWayPointParams{
			OrderUUID:  cfgCopy.OrderUUID,
			WayPointID: cfgCopy.WayPointID,
		}, nil)
	}
}

func (s *Session) onChannelDisconnected() {
	s.mu.Lock()
	s.mu.connected = false
	s.mu.watch.reset()
	cb := s.mu.cbs.OnDisconnect
	s.mu.Unlock()
	s.log.Info("channel disconnected")
	if cb != nil {
		cb()
	}
}

// applyConfiguration validates a freshly received configuration and spins up
// the trackers it allows. An expired share tears the session down instead.
func (s *Session) applyConfiguration(cfg *SharedConfig) {
	if cfg.Expired.Bool() {
		s.Disconnect()
		return
	}

	notifyMethod := false
	if !cfg.Done.Bool() {
		s.mu.Lock()
		if cfg.ETA != "" {
			s.mu.eta.source = ETASourceServer
		}
		s.mu.eta.mode = travelModeForActivity(cfg.DriverActivity)
		notifyMethod = s.refreshETAMethodLocked(cfg)
		s.startPollLoopLocked()
		if s.mu.watch.watching(KindDriver) {
			s.startETALoopLocked()
		}
		s.startAnimationLocked()
		s.mu.Unlock()
	}

	if notifyMethod {
		s.notifyETAMethodChanged()
	}
	if !s.IsConnected() {
		s.subscribeChannel()
	}
}

// handleOrderUpdate is the single entry point for order payloads, push or
// pull. Identifier merge is fill-only; the raw (path-rewritten) payload is
// forwarded to the consumer.
func (s *Session) handleOrderUpdate(order *Order) {
	if order == nil {
		return
	}
	s.mu.Lock()
	cfg := s.configLocked()
	cfg.fill(order.UUID, order.ShareUUID, order.DriverUUID, order.ActiveWayPointID)
	s.mu.poll.lastEvent = s.clock.Now()
	order.rewriteAssetPaths(s.assetBase)

	autoWatch := !s.mu.watch.watching(KindDriver) && s.mu.autoWatchDriver &&
		order.Status == OrderStatusInProgress && cfg.ShareUUID != "" && cfg.DriverUUID != ""
	params := WatchDriverParams{ShareUUID: cfg.ShareUUID, DriverUUID: cfg.DriverUUID}
	cb := s.mu.cbs.OnOrderUpdate
	s.mu.Unlock()

	if autoWatch {
		s.WatchDriver(params, nil)
	}
	if cb != nil {
		cb(order)
	}
}

// handleLocationUpdate is the single entry point for location samples, push
// or pull. A zero coordinate is a device alert, not a position. fromPush
// relaxes the compressed poll period as a reward for a healthy channel.
func (s *Session) handleLocationUpdate(msg LocationMessage, fromPush bool) {
	point := msg.Point()
	if point.Lat == 0 && point.Lng == 0 {
		s.log.Info("empty location received")
		return
	}
	if point.Zero() {
		s.alert(map[string]any{"alert_type": alertZeroLocation})
		return
	}

	if fromPush {
		s.relaxPolling()
	}

	s.mu.Lock()
	cfg := s.configLocked()
	prev := GeoPoint{Lat: cfg.CurrentLat, Lng: cfg.CurrentLng}
	cfg.CurrentLat = point.Lat
	cfg.CurrentLng = point.Lng
	s.mu.poll.lastEvent = s.clock.Now()

	var immediate *GeoPoint
	if from, ok := s.mu.smoother.origin(); ok {
		s.mu.smoother.ingest(from, point)
	} else if prev.Lat != 0 && prev.Lng != 0 {
		// Cold start, but the configuration already knew where the driver
		// was: animate from there.
		s.mu.smoother.ingest(prev, point)
	} else {
		s.mu.smoother.emit(point)
		immediate = &point
	}

	firstETA := s.mu.eta.lastUpdate.IsZero()
	cb := s.mu.cbs.OnLocationUpdate
	s.mu.Unlock()

	if immediate != nil && cb != nil {
		cb(*immediate)
	}
	if firstETA {
		s.calculateETA(point, true)
	}
}

// drainTick pops one frame per animation tick and checks the drain-side ETA
// triggers: estimate age, frames since last recomputation, and the force
// flag raised by activity changes.
func (s *Session) drainTick() {
	s.mu.Lock()
	point, ok := s.mu.smoother.next()
	if !ok {
		s.mu.Unlock()
		return
	}
	s.mu.eta.framesSince++
	cb := s.mu.cbs.OnLocationUpdate

	now := s.clock.Now()
	recompute := now.Sub(s.mu.eta.lastUpdate) > etaStaleAfter ||
		s.mu.eta.framesSince > maxLocationFrames || s.mu.eta.force
	forced := s.mu.eta.force
	if recompute {
		s.mu.eta.force = false
		s.mu.eta.framesSince = 0
	}
	s.mu.Unlock()

	framesEmittedTotal.Inc()
	if cb != nil {
		cb(point)
	}
	if recompute {
		s.calculateETA(point, forced)
	}
}

func (s *Session) startAnimationLocked() {
	if s.mu.animStop != nil {
		close(s.mu.animStop)
	}
	stop := make(chan struct{})
	s.mu.animStop = stop
	go s.runAnimation(stop)
}

func (s *Session) runAnimation(stop <-chan struct{}) {
	ticker := time.NewTicker(animationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.drainTick()
		}
	}
}

// ===== waypoint / activity events =====

func (s *Session) onActivityChange(payload []byte) {
	var data struct {
		Activity int `json:"activity"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		s.log.Warn("bad activity change payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.mu.poll.lastEvent = s.clock.Now()
	s.mu.eta.mode = travelModeForActivity(data.Activity)
	s.mu.eta.force = true
	s.mu.Unlock()
	s.log.Info("driver activity changed", zap.Int("activity", data.Activity))
}

func (s *Session) onWayPointArrived() {
	s.mu.Lock()
	s.mu.poll.lastEvent = s.clock.Now()
	s.mu.watch.set(KindDriver, false)
	cb := s.mu.cbs.OnDriverArrived
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *Session) onWayPointETAUpdated(payload []byte) {
	var data struct {
		ETA string `json:"eta"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		s.log.Warn("bad waypoint eta payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.mu.poll.lastEvent = s.clock.Now()
	cfg := s.configLocked()
	cfg.ETA = data.ETA
	var minutes *int
	if s.mu.eta.source == ETASourceServer {
		if ts, ok := cfg.serverETA(); ok {
			m := int(ts.Sub(s.clock.Now()).Minutes())
			minutes = &m
			s.mu.eta.minutes = &m
		}
	} else {
		minutes = s.mu.eta.minutes
	}
	cb := s.mu.cbs.OnETAUpdate
	s.mu.Unlock()
	if cb != nil {
		cb(minutes)
	}
}

func (s *Session) onWayPointLocationUpdated(payload []byte) {
	var data struct {
		Lat json.Number `json:"lat"`
		Lng json.Number `json:"lng"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		s.log.Warn("bad waypoint location payload", zap.Error(err))
		return
	}
	lat, _ := data.Lat.Float64()
	lng, _ := data.Lng.Float64()
	s.mu.Lock()
	s.mu.poll.lastEvent = s.clock.Now()
	cfg := s.configLocked()
	// Destination updates from the waypoint stream are authoritative.
	cfg.DestinationLat = lat
	cfg.DestinationLng = lng
	s.mu.Unlock()
}

// onTaskDone handles both waypoint-done and order-done: the delivery is
// over, so the channel closes and the consumer is told either to show the
// rating flow or that the task simply ended.
func (s *Session) onTaskDone() {
	s.mu.Lock()
	s.mu.watch.reset()
	allowRating := s.mu.cfg != nil && s.mu.cfg.AllowRating
	left := s.mu.cbs.OnDriverLeft
	ended := s.mu.cbs.OnTaskEnded
	ch := s.channel
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			s.log.Warn("channel close failed", zap.Error(err))
		}
	}
	if allowRating {
		if left != nil {
			left()
		}
	} else if ended != nil {
		ended()
	}
}
