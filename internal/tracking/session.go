package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNoBackend = errors.New("no rest backend configured")

// Timing defaults of the three engine timers.
const (
	animationPeriod         = 50 * time.Millisecond
	etaRecomputePeriod      = time.Minute
	etaBootstrapDelay       = 3 * time.Second
	defaultPollPeriod       = 30 * time.Second
	minPollPeriod           = 10 * time.Second
	pollPeriodStep          = 5 * time.Second
	staleConnectedThreshold = 120 * time.Second
)

// Backend is the REST pull collaborator. Every method maps to one endpoint;
// the engine feeds the results back through the same dispatch paths push
// events take.
type Backend interface {
	SharedConfig(ctx context.Context, shareUUID string) (*SharedConfig, error)
	SharedLocation(ctx context.Context, shareUUID string) (*LocationMessage, error)
	OrderByShare(ctx context.Context, shareUUID, orderUUID, accessToken string) (*Order, error)
	CreateShare(ctx context.Context, orderUUID, accessToken string) (*Order, error)
	Post(ctx context.Context, url string, body map[string]any) (*Result, error)
	Upload(ctx context.Context, url string, data []byte, contentType string) error
}

// Credentials accumulate across initialization calls and are only dropped on
// terminate.
type Credentials struct {
	DeveloperToken      string `json:"token,omitempty"`
	CustomerAccessToken string `json:"customer_access_token,omitempty"`
}

// Callbacks is the consumer-facing surface. Registration is set-once: a
// field that is already registered is never overwritten until
// ClearCallbacks.
type Callbacks struct {
	OnConnect          func()
	OnDisconnect       func()
	OnOrderUpdate      func(*Order)
	OnLocationUpdate   func(GeoPoint)
	OnETAUpdate        func(*int)
	OnETAMethodChanged func()
	OnDriverArrived    func()
	OnDriverLeft       func()
	OnTaskEnded        func()
	OnTaskRated        func(*Result)
	OnTaskPostRated    func(*Result)
	OnNoteAdded        func(*Result)
	OnFailedLoading    func(error)
}

// InitParams are accepted by Initialize.
type InitParams struct {
	Token               string `json:"token,omitempty"`
	CustomerAccessToken string `json:"customer_access_token,omitempty"`
	ShareUUID           string `json:"share_uuid,omitempty"`
	OrderUUID           string `json:"order_uuid,omitempty"`
}

// WatchOrderParams must carry at least two of OrderUUID, ShareUUID and
// AccessToken.
type WatchOrderParams struct {
	OrderUUID   string `json:"order_uuid,omitempty"`
	ShareUUID   string `json:"share_uuid,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	WayPointID  int64  `json:"way_point_id,omitempty"`
}

// WatchDriverParams must carry both identifiers.
type WatchDriverParams struct {
	DriverUUID string `json:"driver_uuid,omitempty"`
	ShareUUID  string `json:"share_uuid,omitempty"`
}

// WatchWayPointParams must carry both identifiers.
type WatchWayPointParams struct {
	OrderUUID  string `json:"order_uuid,omitempty"`
	WayPointID int64  `json:"way_point_id,omitempty"`
}

// Options wires the session collaborators.
type Options struct {
	Channel   Channel
	Backend   Backend
	Oracle    Oracle
	Logger    *zap.Logger
	Clock     Clock
	AssetBase string
}

// Session is one tracking engine instance: one order/driver/waypoint triple
// between Connect/Initialize and Disconnect. All state is owned here; the
// three timers (animation drain, ETA interval, adaptive poll) and async
// completions funnel back through the session mutex. Completions arriving
// after teardown are detected by a generation counter and dropped.
type Session struct {
	log     *zap.Logger
	channel Channel
	backend Backend
	oracle  Oracle
	clock   Clock

	mu        lockedState
	assetBase string
}

// lockedState groups everything guarded by the session lock.
type lockedState struct {
	sync.Mutex

	gen         uint64
	connected   bool
	credentials Credentials
	cfg         *SharedConfig
	watch       watchState
	cbs         Callbacks

	autoWatchDriver   bool
	autoWatchWayPoint bool

	smoother smoother
	eta      etaState
	poll     pollState

	animStop chan struct{}
	etaStop  chan struct{}
	pollStop chan struct{}
}

// New constructs a Session. Nil collaborators degrade gracefully: without a
// Backend the REST fallback is skipped, without an Oracle every client-side
// ETA computation reports unknown.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Session{
		log:       logger,
		channel:   opts.Channel,
		backend:   opts.Backend,
		oracle:    opts.Oracle,
		clock:     clock,
		assetBase: opts.AssetBase,
	}
	s.mu.autoWatchDriver = true
	s.mu.eta.source = ETASourceClient
	s.mu.eta.mode = TravelDriving
	s.mu.poll.period = defaultPollPeriod
	return s
}

// SetCallbacks registers consumer callbacks with set-once semantics: fields
// that already hold a callback are left untouched.
func (s *Session) SetCallbacks(cbs Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeCallbacks(&s.mu.cbs, cbs)
}

// ClearCallbacks drops every registered callback so a consumer can
// re-register.
func (s *Session) ClearCallbacks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.cbs = Callbacks{}
}

func mergeCallbacks(dst *Callbacks, src Callbacks) {
	if dst.OnConnect == nil {
		dst.OnConnect = src.OnConnect
	}
	if dst.OnDisconnect == nil {
		dst.OnDisconnect = src.OnDisconnect
	}
	if dst.OnOrderUpdate == nil {
		dst.OnOrderUpdate = src.OnOrderUpdate
	}
	if dst.OnLocationUpdate == nil {
		dst.OnLocationUpdate = src.OnLocationUpdate
	}
	if dst.OnETAUpdate == nil {
		dst.OnETAUpdate = src.OnETAUpdate
	}
	if dst.OnETAMethodChanged == nil {
		dst.OnETAMethodChanged = src.OnETAMethodChanged
	}
	if dst.OnDriverArrived == nil {
		dst.OnDriverArrived = src.OnDriverArrived
	}
	if dst.OnDriverLeft == nil {
		dst.OnDriverLeft = src.OnDriverLeft
	}
	if dst.OnTaskEnded == nil {
		dst.OnTaskEnded = src.OnTaskEnded
	}
	if dst.OnTaskRated == nil {
		dst.OnTaskRated = src.OnTaskRated
	}
	if dst.OnTaskPostRated == nil {
		dst.OnTaskPostRated = src.OnTaskPostRated
	}
	if dst.OnNoteAdded == nil {
		dst.OnNoteAdded = src.OnNoteAdded
	}
	if dst.OnFailedLoading == nil {
		dst.OnFailedLoading = src.OnFailedLoading
	}
}

// SetAutoWatchDriver toggles the automatic driver watch issued when an
// in-progress order update arrives.
func (s *Session) SetAutoWatchDriver(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.autoWatchDriver = enable
}

// SetAutoWatchWayPoint toggles the automatic waypoint watch issued after a
// successful order watch.
func (s *Session) SetAutoWatchWayPoint(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.autoWatchWayPoint = enable
}

// SetDestination overrides the destination coordinates used for ETA
// computation.
func (s *Session) SetDestination(lat, lng float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.configLocked()
	cfg.DestinationLat = lat
	cfg.DestinationLng = lng
}

// Configuration returns a copy of the current configuration, nil before the
// first fill.
func (s *Session) Configuration() *SharedConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.cfg == nil {
		return nil
	}
	cp := *s.mu.cfg
	return &cp
}

// IsConnected reports the channel state as observed through connect and
// disconnect events.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.connected
}

// IsWatching reports whether the given entity is actively watched.
func (s *Session) IsWatching(kind WatchKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.watch.watching(kind)
}

func (s *Session) configLocked() *SharedConfig {
	if s.mu.cfg == nil {
		s.mu.cfg = &SharedConfig{}
	}
	return s.mu.cfg
}

// Initialize obtains the shared configuration for the given share and starts
// tracking. The callback fires once the configuration is applied; load
// failures are reported through OnFailedLoading.
func (s *Session) Initialize(params InitParams, cb func(*SharedConfig)) {
	if params == (InitParams{}) {
		s.log.Warn("cannot initialize without params")
		return
	}
	s.setCredentials(params)

	if params.ShareUUID == "" {
		return
	}
	if s.backend == nil {
		s.failLoading(errNoBackend)
		return
	}
	s.mu.Lock()
	gen := s.mu.gen
	s.mu.Unlock()

	go func() {
		before := s.clock.Now()
		cfg, err := s.backend.SharedConfig(context.Background(), params.ShareUUID)
		if err != nil {
			s.failLoading(err)
			return
		}
		s.mu.Lock()
		if gen != s.mu.gen {
			s.mu.Unlock()
			return
		}
		cfg.ShareUUID = params.ShareUUID
		s.mu.cfg = cfg
		s.mu.Unlock()

		s.applyConfiguration(cfg)
		s.alert(map[string]any{"alert_type": alertConfigLatency, "time": s.clock.Now().Sub(before).Milliseconds()})
		if cb != nil {
			cb(cfg)
		}
	}()
}

// Connect registers the connection callbacks, stores the customer access
// token and subscribes the engine to the push channel.
func (s *Session) Connect(customerAccessToken string, onConnect, onDisconnect func()) {
	s.mu.Lock()
	s.mu.credentials.CustomerAccessToken = customerAccessToken
	mergeCallbacks(&s.mu.cbs, Callbacks{OnConnect: onConnect, OnDisconnect: onDisconnect})
	s.mu.Unlock()
	s.subscribeChannel()
}

// Disconnect tears the session down: all three timers stop, the channel
// closes, watch state resets and the tracking identifiers are cleared. The
// rating, note and tip endpoints survive so they can be used after the
// delivery ends. In-flight completions become no-ops.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.mu.gen++
	s.stopTimersLocked()
	s.mu.watch.reset()
	s.mu.connected = false
	s.mu.smoother.reset()
	if s.mu.cfg != nil {
		s.mu.cfg.ShareUUID = ""
		s.mu.cfg.OrderUUID = ""
		s.mu.cfg.WayPointID = 0
	}
	ch := s.channel
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			s.log.Warn("channel close failed", zap.Error(err))
		}
	}
}

func (s *Session) stopTimersLocked() {
	if s.mu.animStop != nil {
		close(s.mu.animStop)
		s.mu.animStop = nil
	}
	if s.mu.etaStop != nil {
		close(s.mu.etaStop)
		s.mu.etaStop = nil
	}
	if s.mu.pollStop != nil {
		close(s.mu.pollStop)
		s.mu.pollStop = nil
	}
}

func (s *Session) setCredentials(params InitParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if params.Token != "" {
		s.mu.credentials.DeveloperToken = params.Token
	}
	if params.CustomerAccessToken != "" {
		s.mu.credentials.CustomerAccessToken = params.CustomerAccessToken
	}
}

func (s *Session) failLoading(err error) {
	s.mu.Lock()
	cb := s.mu.cbs.OnFailedLoading
	s.mu.Unlock()
	s.log.Warn("shared config load failed", zap.Error(err))
	if cb != nil {
		cb(err)
	}
}

// ===== watch APIs =====

// WatchOrder subscribes to order updates. At least two of order uuid, share
// uuid and access token are required; with fewer the call short-circuits
// with missing_params and no channel traffic.
func (s *Session) WatchOrder(params WatchOrderParams, cb ResultFunc) {
	supplied := 0
	if params.OrderUUID != "" {
		supplied++
	}
	if params.ShareUUID != "" {
		supplied++
	}
	if params.AccessToken != "" {
		supplied++
	}
	if supplied < 2 {
		deliver(cb, failure(CodeMissingParams,
			"watch order failed - params must contain at least two of the following params order_uuid, share_uuid, access_token"))
		return
	}

	s.mu.Lock()
	gen := s.mu.gen
	s.mu.Unlock()
	s.emit(EventWatchOrder, params, cb, func(result *Result) {
		s.watchOrderAck(gen, result, cb)
	})

	s.mu.Lock()
	cfg := s.configLocked()
	cfg.fill(params.OrderUUID, params.ShareUUID, "", params.WayPointID)
	autoWayPoint := !s.mu.watch.watching(KindWayPoint) && s.mu.autoWatchWayPoint &&
		cfg.WayPointID != 0 && cfg.OrderUUID != ""
	wpParams := WatchWayPointParams{OrderUUID: cfg.OrderUUID, WayPointID: cfg.WayPointID}
	s.mu.Unlock()

	if autoWayPoint {
		s.WatchWayPoint(wpParams, nil)
	}
}

func (s *Session) watchOrderAck(gen uint64, result *Result, cb ResultFunc) {
	if result == nil {
		deliver(cb, failure(CodeNoResponse, "watch order failed - no response"))
		return
	}
	if result.Expired {
		deliver(cb, result)
		return
	}
	if !result.Success {
		deliver(cb, failure(CodeUnknownReason, "watch order failed - unknown reason"))
		return
	}

	s.mu.Lock()
	if gen != s.mu.gen {
		s.mu.Unlock()
		return
	}
	s.mu.watch.set(KindOrder, true)
	var apply *SharedConfig
	if sl := result.SharedLocation; sl != nil {
		// The watch ack is the most authoritative source: it replaces the
		// configuration wholesale instead of merging.
		sl.ShareUUID = sl.UUID
		s.mu.cfg = sl
		apply = sl
	}
	s.mu.Unlock()

	if apply != nil {
		s.applyConfiguration(apply)
	}
	deliver(cb, result)
}

// WatchDriver subscribes to driver location updates. Both driver uuid and
// share uuid are required.
func (s *Session) WatchDriver(params WatchDriverParams, cb ResultFunc) {
	if params.DriverUUID == "" || params.ShareUUID == "" {
		deliver(cb, failure(CodeMissingParams,
			"watch driver failed - params must contain driver_uuid and share_uuid"))
		return
	}

	s.mu.Lock()
	gen := s.mu.gen
	s.mu.Unlock()
	s.emit(EventWatchDriver, params, cb, func(result *Result) {
		s.watchDriverAck(gen, result, cb)
	})

	s.mu.Lock()
	s.configLocked().fill("", params.ShareUUID, params.DriverUUID, 0)
	s.mu.Unlock()
}

func (s *Session) watchDriverAck(gen uint64, result *Result, cb ResultFunc) {
	if result == nil {
		deliver(cb, failure(CodeNoResponse, "failed watching driver"))
		return
	}
	if result.Expired {
		deliver(cb, result)
		return
	}
	if !result.Success {
		deliver(cb, failure(CodeUnknownReason, "failed watching driver"))
		return
	}

	s.mu.Lock()
	if gen != s.mu.gen {
		s.mu.Unlock()
		return
	}
	s.mu.watch.set(KindDriver, true)
	s.startETALoopLocked()
	s.mu.Unlock()
	deliver(cb, result)
}

// WatchWayPoint subscribes to waypoint updates. Both order uuid and waypoint
// id are required.
func (s *Session) WatchWayPoint(params WatchWayPointParams, cb ResultFunc) {
	if params.OrderUUID == "" || params.WayPointID == 0 {
		deliver(cb, failure(CodeMissingParams,
			"watch way point failed - params must contain order_uuid and way_point_id"))
		return
	}

	s.mu.Lock()
	gen := s.mu.gen
	s.mu.Unlock()
	s.emit(EventWatchWayPoint, params, cb, func(result *Result) {
		s.watchWayPointAck(gen, result, cb)
	})
}

func (s *Session) watchWayPointAck(gen uint64, result *Result, cb ResultFunc) {
	if result == nil {
		deliver(cb, failure(CodeNoResponse, "failed watching waypoint"))
		return
	}
	if result.Expired {
		deliver(cb, result)
		return
	}
	if !result.Success {
		deliver(cb, failure(CodeUnknownReason, "failed watching waypoint"))
		return
	}

	s.mu.Lock()
	if gen != s.mu.gen {
		s.mu.Unlock()
		return
	}
	s.mu.watch.set(KindWayPoint, true)
	s.mu.Unlock()
	deliver(cb, result)
}

// emit sends a request over the channel, mapping a missing channel or a
// transport error to no_response on the caller's callback.
func (s *Session) emit(event string, payload any, cb ResultFunc, ack func(*Result)) {
	if s.channel == nil {
		deliver(cb, failure(CodeNoResponse, event+" failed - channel not connected"))
		return
	}
	err := s.channel.Emit(event, payload, func(raw []byte) {
		ack(decodeResult(raw))
	})
	if err != nil {
		s.log.Warn("channel emit failed", zap.String("event", event), zap.Error(err))
		deliver(cb, failure(CodeNoResponse, event+" failed - no response"))
	}
}

func deliver(cb ResultFunc, result *Result) {
	if cb != nil {
		cb(result)
	}
}

// ===== submit operations =====

// SubmitRating posts the customer rating to the configured rating endpoint.
// Outcome is delivered via OnTaskRated.
func (s *Session) SubmitRating(rating int) {
	s.mu.Lock()
	cfg := s.mu.cfg
	cb := s.mu.cbs.OnTaskRated
	s.mu.Unlock()
	if cfg == nil {
		s.log.Warn("submit rating - no configuration")
		return
	}
	if cfg.RatingURL == "" {
		s.log.Warn("submit rating - no url provided for rating")
		if cb != nil {
			cb(&Result{Success: false, Message: "no url provided for rating"})
		}
		return
	}
	s.post(cfg.RatingURL, map[string]any{"rating": rating, "token": cfg.RatingToken},
		cb, "Unknown error while rating")
}

// SubmitRatingReason posts the post-rating reason. Outcome is delivered via
// OnTaskPostRated.
func (s *Session) SubmitRatingReason(ratingReasonID int64) {
	s.mu.Lock()
	cfg := s.mu.cfg
	cb := s.mu.cbs.OnTaskPostRated
	s.mu.Unlock()
	if cfg == nil || cfg.RatingReason == nil || cfg.RatingReason.URL == "" {
		s.log.Warn("submit rating reason - endpoint not configured")
		if cb != nil {
			cb(&Result{Success: false, Message: "no url provided for rating reason"})
		}
		return
	}
	s.post(cfg.RatingReason.URL, map[string]any{"rating_reason_id": ratingReasonID, "token": cfg.RatingToken},
		cb, "Unknown error while submitting rating reason.")
}

// SubmitNote posts a free-form note from the customer to the driver. Outcome
// is delivered via OnNoteAdded.
func (s *Session) SubmitNote(note string) {
	if note == "" {
		return
	}
	s.mu.Lock()
	cfg := s.mu.cfg
	cb := s.mu.cbs.OnNoteAdded
	s.mu.Unlock()
	if cfg == nil || cfg.NoteURL == "" {
		s.log.Warn("submit note - endpoint not configured")
		if cb != nil {
			cb(&Result{Success: false, Message: "no url provided for note"})
		}
		return
	}
	s.post(cfg.NoteURL, map[string]any{"note": note, "token": cfg.NoteToken},
		cb, "Unknown error while sending note")
}

// SubmitLocation reports the customer's own position ("find me") so the
// driver can locate them.
func (s *Session) SubmitLocation(position GeoPoint, successCb func(*Result), failureCb func()) {
	s.mu.Lock()
	cfg := s.mu.cfg
	s.mu.Unlock()
	if cfg == nil || cfg.FindMeURL == "" {
		s.log.Warn("submit location - endpoint not configured")
		if failureCb != nil {
			failureCb()
		}
		return
	}
	if s.backend == nil {
		if failureCb != nil {
			failureCb()
		}
		return
	}
	go func() {
		resp, err := s.backend.Post(context.Background(), cfg.FindMeURL, map[string]any{
			"position":      position,
			"find_me_token": cfg.FindMeToken,
		})
		if err != nil {
			if failureCb != nil {
				failureCb()
			}
			return
		}
		if successCb != nil {
			successCb(resp)
		}
	}()
}

// SubmitTip uploads the signature image, then posts the tip referencing it.
func (s *Session) SubmitTip(amount float64, signature []byte) {
	s.mu.Lock()
	cfg := s.mu.cfg
	s.mu.Unlock()
	if cfg == nil || cfg.Tip == nil || cfg.Tip.SignatureUploadPath == "" || cfg.Tip.URL == "" {
		s.log.Warn("submit tip - endpoint not configured")
		return
	}
	if s.backend == nil {
		return
	}
	fileName := uuid.NewString() + ".jpg"
	go func() {
		ctx := context.Background()
		upload, err := s.backend.Post(ctx, cfg.Tip.SignatureUploadPath, map[string]any{
			"amount":         amount,
			"signatureImage": fileName,
			"currency":       cfg.Tip.Currency,
			"type":           "image/jpeg",
			"tipToken":       cfg.TipToken,
		})
		if err != nil || upload == nil {
			s.log.Warn("tip signature upload request failed", zap.Error(err))
			return
		}
		if upload.URL != "" {
			if err := s.backend.Upload(ctx, upload.URL, signature, "image/jpeg"); err != nil {
				s.log.Warn("tip signature upload failed", zap.Error(err))
				return
			}
		}
		if _, err := s.backend.Post(ctx, cfg.Tip.URL, map[string]any{
			"amount":         amount,
			"tipToken":       cfg.TipToken,
			"signatureImage": fileName,
			"currency":       cfg.Tip.Currency,
			"taskNoteId":     upload.NoteID,
		}); err != nil {
			s.log.Warn("tip submission failed", zap.Error(err))
		}
	}()
}

// post is the shared fire-and-report path for the configured submit
// endpoints: any transport failure degrades to a structured failure result
// on the same callback.
func (s *Session) post(url string, body map[string]any, cb func(*Result), failMsg string) {
	if s.backend == nil {
		if cb != nil {
			cb(&Result{Success: false, Message: failMsg})
		}
		return
	}
	go func() {
		resp, err := s.backend.Post(context.Background(), url, body)
		if err != nil {
			resp = &Result{Success: false, Message: failMsg}
		}
		if cb != nil {
			cb(resp)
		}
	}()
}

// alert fires a best-effort customer alert to the backend; gated on the
// alerting token being present.
func (s *Session) alert(options map[string]any) {
	s.mu.Lock()
	cfg := s.mu.cfg
	s.mu.Unlock()
	if s.backend == nil || cfg == nil || cfg.AlertingToken == "" || cfg.AlertingURL == "" {
		return
	}
	payload := map[string]any{"alert_type": alertTypeGeneric, "token": cfg.AlertingToken}
	for k, v := range options {
		payload[k] = v
	}
	go func() {
		if _, err := s.backend.Post(context.Background(), cfg.AlertingURL, payload); err != nil {
			s.log.Warn("customer alert failed", zap.Error(err))
		}
	}()
}

// Customer alert types understood by the backend.
const (
	alertTypeGeneric   = 0
	alertETACalculated = 1
	alertZeroLocation  = 2
	alertETARefreshed  = 3
	alertStaleFallback = 4
	alertPollRelaxed   = 5
	alertConfigLatency = 7
)
