package tracking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// pollState tracks the adaptive REST fallback. period tightens by one step
// whenever staleness forces a fallback and relaxes by one step on every
// push location event, staying inside [minPollPeriod, defaultPollPeriod].
type pollState struct {
	period    time.Duration
	lastEvent time.Time
}

func (s *Session) startPollLoopLocked() {
	if s.mu.pollStop != nil {
		close(s.mu.pollStop)
	}
	stop := make(chan struct{})
	s.mu.pollStop = stop
	go s.runPollLoop(stop)
}

// runPollLoop re-arms a one-shot timer each pass so period changes made by
// pollTick and relaxPolling take effect on the very next wait.
func (s *Session) runPollLoop(stop <-chan struct{}) {
	for {
		s.mu.Lock()
		period := s.mu.poll.period
		s.mu.Unlock()

		timer := time.NewTimer(period)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.pollTick()
		}
	}
}

// pollTick checks how long the session has gone without any inbound event
// and, past the staleness threshold, pulls the order and driver location
// over REST. A live channel earns a more forgiving threshold.
func (s *Session) pollTick() {
	s.mu.Lock()
	now := s.clock.Now()
	if s.mu.poll.lastEvent.IsZero() {
		s.mu.poll.lastEvent = now
		s.mu.Unlock()
		return
	}
	threshold := s.mu.poll.period
	if s.mu.connected {
		threshold = staleConnectedThreshold
	}
	if now.Sub(s.mu.poll.lastEvent) <= threshold {
		s.mu.Unlock()
		return
	}

	if s.mu.poll.period > minPollPeriod {
		s.mu.poll.period -= pollPeriodStep
		if s.mu.poll.period < minPollPeriod {
			s.mu.poll.period = minPollPeriod
		}
	}
	period := s.mu.poll.period
	gen := s.mu.gen
	creds := s.mu.credentials
	cfg := s.configLocked()
	shareUUID := cfg.ShareUUID
	orderUUID := cfg.OrderUUID
	watchingDriver := s.mu.watch.watching(KindDriver)
	s.mu.Unlock()

	pollIntervalSeconds.Set(period.Seconds())
	restFallbackTotal.Inc()
	s.alert(map[string]any{"alert_type": alertStaleFallback, "poll_interval": period.Seconds()})
	s.log.Info("no recent events, polling over rest",
		zap.Duration("interval", period), zap.String("share_uuid", shareUUID))

	if s.backend == nil {
		return
	}
	ctx, span := otel.Tracer("tracking.poller").Start(context.Background(), "poll.fallback")
	defer span.End()

	s.pullOrder(ctx, gen, shareUUID, orderUUID, creds.CustomerAccessToken)
	if watchingDriver && shareUUID != "" {
		s.pullLocation(ctx, gen, shareUUID)
	}
}

// pullOrder fetches the order state with whichever identifiers the session
// holds: an existing share first, otherwise a share is created from the
// order uuid and access token.
func (s *Session) pullOrder(ctx context.Context, gen uint64, shareUUID, orderUUID, accessToken string) {
	var (
		order *Order
		err   error
	)
	switch {
	case shareUUID != "":
		order, err = s.backend.OrderByShare(ctx, shareUUID, orderUUID, accessToken)
	case orderUUID != "" && accessToken != "":
		order, err = s.backend.CreateShare(ctx, orderUUID, accessToken)
	default:
		s.log.Debug("no identifiers to poll order with")
		return
	}
	if err != nil {
		s.log.Warn("order poll failed", zap.Error(err))
		return
	}
	if s.dropStale(gen) {
		return
	}
	s.handleOrderUpdate(order)
}

func (s *Session) pullLocation(ctx context.Context, gen uint64, shareUUID string) {
	msg, err := s.backend.SharedLocation(ctx, shareUUID)
	if err != nil {
		s.log.Warn("location poll failed", zap.Error(err))
		return
	}
	if msg == nil || s.dropStale(gen) {
		return
	}
	s.handleLocationUpdate(*msg, false)
}

func (s *Session) dropStale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.mu.gen
}

// relaxPolling widens a previously compressed poll period by one step. Push
// location traffic is the signal that the channel is healthy again.
func (s *Session) relaxPolling() {
	s.mu.Lock()
	if s.mu.poll.period >= defaultPollPeriod {
		s.mu.Unlock()
		return
	}
	s.mu.poll.period += pollPeriodStep
	if s.mu.poll.period > defaultPollPeriod {
		s.mu.poll.period = defaultPollPeriod
	}
	period := s.mu.poll.period
	s.mu.Unlock()

	pollIntervalSeconds.Set(period.Seconds())
	s.alert(map[string]any{"alert_type": alertPollRelaxed, "poll_interval": period.Seconds()})
}
