package tracking_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/sharetrack/internal/tracking"
)

type emitRecord struct {
	event   string
	payload any
	ack     func([]byte)
}

type stubChannel struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	emits    []emitRecord
	closed   int
	emitErr  error
}

func newStubChannel() *stubChannel {
	return &stubChannel{handlers: make(map[string]func([]byte))}
}

func (c *stubChannel) Emit(event string, payload any, ack func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emitRecord{event: event, payload: payload, ack: ack})
	return nil
}

func (c *stubChannel) On(event string, handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *stubChannel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *stubChannel) fire(t *testing.T, event string, payload any) {
	t.Helper()
	c.mu.Lock()
	handler, ok := c.handlers[event]
	c.mu.Unlock()
	require.True(t, ok, "no handler for %s", event)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	handler(raw)
}

func (c *stubChannel) lastEmit(t *testing.T, event string) emitRecord {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.emits) - 1; i >= 0; i-- {
		if c.emits[i].event == event {
			return c.emits[i]
		}
	}
	t.Fatalf("no emit for %s", event)
	return emitRecord{}
}

func (c *stubChannel) emitCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.emits {
		if rec.event == event {
			n++
		}
	}
	return n
}

func newSession(ch tracking.Channel) *tracking.Session {
	return tracking.New(tracking.Options{Channel: ch})
}

// ===== watch validation and ack taxonomy =====

func TestWatchOrderRequiresTwoIdentifiers(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "order-1"}, func(r *tracking.Result) { result = r })

	require.NotNil(t, result)
	require.False(t, result.Success)
	require.Equal(t, tracking.CodeMissingParams, result.RC)
	require.Equal(t,
		"watch order failed - params must contain at least two of the following params order_uuid, share_uuid, access_token",
		result.Error)
	require.Zero(t, ch.emitCount(tracking.EventWatchOrder))
}

func TestWatchOrderAnyTwoIdentifiersPass(t *testing.T) {
	pairs := []tracking.WatchOrderParams{
		{OrderUUID: "o", ShareUUID: "s"},
		{OrderUUID: "o", AccessToken: "t"},
		{ShareUUID: "s", AccessToken: "t"},
	}
	for _, params := range pairs {
		ch := newStubChannel()
		s := newSession(ch)
		s.WatchOrder(params, nil)
		require.Equal(t, 1, ch.emitCount(tracking.EventWatchOrder))
	}
}

func TestWatchOrderNoAcknowledgment(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"},
		func(r *tracking.Result) { result = r })

	ch.lastEmit(t, tracking.EventWatchOrder).ack(nil)

	require.NotNil(t, result)
	require.Equal(t, tracking.CodeNoResponse, result.RC)
	require.False(t, s.IsWatching(tracking.KindOrder))
}

func TestWatchOrderExpiredForwardedVerbatim(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"},
		func(r *tracking.Result) { result = r })

	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(`{"success":false,"expired":true,"message":"share expired"}`))

	require.NotNil(t, result)
	require.True(t, result.Expired)
	require.Equal(t, "share expired", result.Message)
	require.Empty(t, result.RC)
	require.False(t, s.IsWatching(tracking.KindOrder))
}

func TestWatchOrderUnknownReason(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"},
		func(r *tracking.Result) { result = r })

	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(`{"success":false}`))

	require.NotNil(t, result)
	require.Equal(t, tracking.CodeUnknownReason, result.RC)
}

func TestWatchOrderSuccessAppliesAuthoritativeConfig(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)
	defer s.Disconnect()

	var result *tracking.Result
	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "order-1", ShareUUID: "share-1"},
		func(r *tracking.Result) { result = r })

	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(
		`{"success":true,"shared_location":{"uuid":"share-1","order_uuid":"order-1","driver_uuid":"driver-1","way_point_id":7,"rating_url":"/r"}}`))

	require.NotNil(t, result)
	require.True(t, result.Success)
	require.True(t, s.IsWatching(tracking.KindOrder))

	cfg := s.Configuration()
	require.NotNil(t, cfg)
	require.Equal(t, "share-1", cfg.ShareUUID)
	require.Equal(t, "driver-1", cfg.DriverUUID)
	require.Equal(t, "/r", cfg.RatingURL)
}

func TestWatchOrderExpiredConfigTearsDown(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"}, nil)
	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(
		`{"success":true,"shared_location":{"uuid":"s","expired":"true"}}`))

	require.False(t, s.IsWatching(tracking.KindOrder))
	require.GreaterOrEqual(t, ch.closed, 1)
}

func TestWatchOrderAutoWatchesWayPoint(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)
	s.SetAutoWatchWayPoint(true)

	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "order-1", ShareUUID: "share-1", WayPointID: 7}, nil)

	require.Equal(t, 1, ch.emitCount(tracking.EventWatchWayPoint))
}

func TestWatchDriverRequiresBothIdentifiers(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.WatchDriver(tracking.WatchDriverParams{DriverUUID: "d"}, func(r *tracking.Result) { result = r })

	require.NotNil(t, result)
	require.Equal(t, tracking.CodeMissingParams, result.RC)
	require.Zero(t, ch.emitCount(tracking.EventWatchDriver))
}

func TestWatchDriverSuccess(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)
	defer s.Disconnect()

	var result *tracking.Result
	s.WatchDriver(tracking.WatchDriverParams{DriverUUID: "d", ShareUUID: "s"},
		func(r *tracking.Result) { result = r })
	ch.lastEmit(t, tracking.EventWatchDriver).ack([]byte(`{"success":true}`))

	require.NotNil(t, result)
	require.True(t, result.Success)
	require.True(t, s.IsWatching(tracking.KindDriver))
}

func TestWatchWayPointRequiresBothIdentifiers(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.WatchWayPoint(tracking.WatchWayPointParams{OrderUUID: "o"}, func(r *tracking.Result) { result = r })

	require.NotNil(t, result)
	require.Equal(t, tracking.CodeMissingParams, result.RC)
}

func TestEmitWithoutChannelIsNoResponse(t *testing.T) {
	s := newSession(nil)

	var result *tracking.Result
	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"},
		func(r *tracking.Result) { result = r })

	require.NotNil(t, result)
	require.Equal(t, tracking.CodeNoResponse, result.RC)
}

// ===== callbacks and connection =====

func TestCallbacksAreSetOnce(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var first, second int
	s.SetCallbacks(tracking.Callbacks{OnConnect: func() { first++ }})
	s.SetCallbacks(tracking.Callbacks{OnConnect: func() { second++ }})

	s.Connect("", nil, nil)
	ch.fire(t, tracking.EventConnect, nil)

	require.Equal(t, 1, first)
	require.Zero(t, second)
}

func TestClearCallbacksAllowsReRegistration(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var first, second int
	s.SetCallbacks(tracking.Callbacks{OnConnect: func() { first++ }})
	s.ClearCallbacks()
	s.SetCallbacks(tracking.Callbacks{OnConnect: func() { second++ }})

	s.Connect("", nil, nil)
	ch.fire(t, tracking.EventConnect, nil)

	require.Zero(t, first)
	require.Equal(t, 1, second)
}

func TestConnectEmitsCustomerHandshake(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	s.Connect("customer-token", nil, nil)
	ch.fire(t, tracking.EventConnect, nil)

	require.True(t, s.IsConnected())
	rec := ch.lastEmit(t, tracking.EventCustomerConnect)
	creds, ok := rec.payload.(tracking.Credentials)
	require.True(t, ok)
	require.Equal(t, "customer-token", creds.CustomerAccessToken)
}

func TestDisconnectEventResetsWatchState(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var disconnects int
	s.Connect("", nil, func() { disconnects++ })

	s.WatchDriver(tracking.WatchDriverParams{DriverUUID: "d", ShareUUID: "s"}, nil)
	ch.lastEmit(t, tracking.EventWatchDriver).ack([]byte(`{"success":true}`))
	require.True(t, s.IsWatching(tracking.KindDriver))

	ch.fire(t, tracking.EventDisconnect, nil)
	require.False(t, s.IsConnected())
	require.False(t, s.IsWatching(tracking.KindDriver))
	require.Equal(t, 1, disconnects)

	s.Disconnect()
}

func TestDisconnectClearsIdentifiersKeepsEndpoints(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "order-1", ShareUUID: "share-1"}, nil)
	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(
		`{"success":true,"shared_location":{"uuid":"share-1","order_uuid":"order-1","way_point_id":3,"rating_url":"/r","rating_token":"rt"}}`))

	s.Disconnect()

	cfg := s.Configuration()
	require.NotNil(t, cfg)
	require.Empty(t, cfg.ShareUUID)
	require.Empty(t, cfg.OrderUUID)
	require.Zero(t, cfg.WayPointID)
	require.Equal(t, "/r", cfg.RatingURL)
	require.Equal(t, "rt", cfg.RatingToken)
	require.GreaterOrEqual(t, ch.closed, 1)
}

// ===== push dispatch =====

func TestOrderUpdateAutoWatchesDriver(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)
	defer s.Disconnect()

	var updates int
	s.SetCallbacks(tracking.Callbacks{OnOrderUpdate: func(*tracking.Order) { updates++ }})
	s.Connect("", nil, nil)

	ch.fire(t, tracking.EventOrderUpdate, tracking.Order{
		UUID:       "order-1",
		ShareUUID:  "share-1",
		DriverUUID: "driver-1",
		Status:     tracking.OrderStatusInProgress,
	})

	require.Equal(t, 1, updates)
	require.Equal(t, 1, ch.emitCount(tracking.EventWatchDriver))
}

func TestOrderUpdateNoAutoWatchWhenDisabled(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)
	s.SetAutoWatchDriver(false)
	s.Connect("", nil, nil)

	ch.fire(t, tracking.EventOrderUpdate, tracking.Order{
		UUID:       "order-1",
		ShareUUID:  "share-1",
		DriverUUID: "driver-1",
		Status:     tracking.OrderStatusInProgress,
	})

	require.Zero(t, ch.emitCount(tracking.EventWatchDriver))
}

func TestLocationUpdateColdStartEmitsImmediately(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var points []tracking.GeoPoint
	s.SetCallbacks(tracking.Callbacks{OnLocationUpdate: func(p tracking.GeoPoint) { points = append(points, p) }})
	s.Connect("", nil, nil)

	ch.fire(t, tracking.EventLocationUpdate, tracking.LocationMessage{Lat: 35.7, Lng: 51.4})

	require.Len(t, points, 1)
	require.Equal(t, tracking.GeoPoint{Lat: 35.7, Lng: 51.4}, points[0])
}

func TestLocationUpdateInterpolatesAfterFirstSample(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var points []tracking.GeoPoint
	var mu sync.Mutex
	s.SetCallbacks(tracking.Callbacks{OnLocationUpdate: func(p tracking.GeoPoint) {
		mu.Lock()
		points = append(points, p)
		mu.Unlock()
	}})
	s.Connect("", nil, nil)

	ch.fire(t, tracking.EventLocationUpdate, tracking.LocationMessage{Lat: 35.7, Lng: 51.4})
	// The second sample goes through the smoother, not straight to the
	// callback.
	ch.fire(t, tracking.EventLocationUpdate, tracking.LocationMessage{Lat: 35.8, Lng: 51.5})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, points, 1)
}

func TestWayPointArrivedStopsDriverWatch(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)
	defer s.Disconnect()

	var arrived int
	s.SetCallbacks(tracking.Callbacks{OnDriverArrived: func() { arrived++ }})
	s.Connect("", nil, nil)

	s.WatchDriver(tracking.WatchDriverParams{DriverUUID: "d", ShareUUID: "s"}, nil)
	ch.lastEmit(t, tracking.EventWatchDriver).ack([]byte(`{"success":true}`))
	require.True(t, s.IsWatching(tracking.KindDriver))

	ch.fire(t, tracking.EventWayPointArrived, nil)

	require.Equal(t, 1, arrived)
	require.False(t, s.IsWatching(tracking.KindDriver))
}

func TestTaskDoneWithoutRating(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var ended, left int
	s.SetCallbacks(tracking.Callbacks{
		OnTaskEnded:  func() { ended++ },
		OnDriverLeft: func() { left++ },
	})
	s.Connect("", nil, nil)

	ch.fire(t, tracking.EventOrderDone, nil)

	require.Equal(t, 1, ended)
	require.Zero(t, left)
	require.GreaterOrEqual(t, ch.closed, 1)
}

func TestTaskDoneWithRatingOffersIt(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var ended, left int
	s.SetCallbacks(tracking.Callbacks{
		OnTaskEnded:  func() { ended++ },
		OnDriverLeft: func() { left++ },
	})

	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"}, nil)
	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(
		`{"success":true,"shared_location":{"uuid":"s","allow_rating":true}}`))

	ch.fire(t, tracking.EventWayPointDone, nil)

	require.Equal(t, 1, left)
	require.Zero(t, ended)
	s.Disconnect()
}

func TestResubscribeKeepsSingleHandler(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var connects int
	s.SetCallbacks(tracking.Callbacks{OnConnect: func() { connects++ }})
	s.Connect("", nil, nil)
	s.Connect("", nil, nil)

	ch.fire(t, tracking.EventConnect, nil)
	require.Equal(t, 1, connects)
}

// ===== submit operations =====

func TestSubmitRatingWithoutURL(t *testing.T) {
	ch := newStubChannel()
	s := newSession(ch)

	var result *tracking.Result
	s.SetCallbacks(tracking.Callbacks{OnTaskRated: func(r *tracking.Result) { result = r }})

	s.WatchOrder(tracking.WatchOrderParams{OrderUUID: "o", ShareUUID: "s"}, nil)
	ch.lastEmit(t, tracking.EventWatchOrder).ack([]byte(`{"success":true,"shared_location":{"uuid":"s"}}`))

	s.SubmitRating(5)

	require.NotNil(t, result)
	require.False(t, result.Success)
	require.Equal(t, "no url provided for rating", result.Message)
	s.Disconnect()
}

func TestSubmitNoteEmptyIsIgnored(t *testing.T) {
	s := newSession(newStubChannel())
	var called bool
	s.SetCallbacks(tracking.Callbacks{OnNoteAdded: func(*tracking.Result) { called = true }})

	s.SubmitNote("")

	time.Sleep(20 * time.Millisecond)
	require.False(t, called)
}
