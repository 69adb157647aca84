package share

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/auth"
	"github.com/example/sharetrack/internal/tracking"
)

// Handler serves the share API: configuration and location reads for the
// tracking engine's pull path, share creation, and the token-gated feedback
// endpoints (rating, note, find me, tip, alerts).
type Handler struct {
	store  *Store
	outbox *Outbox
	log    *zap.Logger
	secret string

	// verifyOrderAccess guards share creation. The default only requires a
	// non-empty token; deployments plug in their order service check.
	verifyOrderAccess func(orderUUID, accessToken string) bool
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Store             *Store
	Outbox            *Outbox
	Logger            *zap.Logger
	TokenSecret       string
	VerifyOrderAccess func(orderUUID, accessToken string) bool
}

// NewHandler builds the share API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	verify := cfg.VerifyOrderAccess
	if verify == nil {
		verify = func(_, accessToken string) bool { return accessToken != "" }
	}
	return &Handler{
		store:             cfg.Store,
		outbox:            cfg.Outbox,
		log:               logger,
		secret:            cfg.TokenSecret,
		verifyOrderAccess: verify,
	}
}

// Router builds the chi router with all endpoints and middlewares. extra
// middlewares (rate limiting) apply to the polling reads only.
func (h *Handler) Router(pollMiddlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Logger, chimiddleware.Recoverer)

	r.Group(func(r chi.Router) {
		for _, mw := range pollMiddlewares {
			r.Use(mw)
		}
		r.Get("/shared/{uuid}", h.getShare)
		r.Get("/shared/{uuid}/location", h.getLocation)
		r.Get("/watch/shared/{uuid}", h.watchShare)
		r.Get("/shared/orders", h.createShare)
	})

	r.Post("/shared/{uuid}/rating", h.feedback("rating", tracking.EventOrderUpdate))
	r.Post("/shared/{uuid}/rating_reason", h.feedback("rating_reason", ""))
	r.Post("/shared/{uuid}/note", h.feedback("note", ""))
	r.Post("/shared/{uuid}/find_me", h.feedback("find_me", ""))
	r.With(auth.Middleware(h.secret, func(r *http.Request) string {
		return chi.URLParam(r, "uuid")
	})).Post("/shared/{uuid}/alerts", h.ingestAlert)
	r.Post("/shared/{uuid}/tip/signature", h.tipSignature)
	r.Post("/shared/{uuid}/tip", h.feedback("tip", ""))
	r.Put("/uploads/{name}", h.upload)

	r.Get("/drivers/near", h.driversNear)

	return r
}

func (h *Handler) getShare(w http.ResponseWriter, r *http.Request) {
	shareUUID := chi.URLParam(r, "uuid")
	cfg, err := h.store.Share(r.Context(), shareUUID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "share not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Warn("share load failed", zap.String("share_uuid", shareUUID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	shareUUID := chi.URLParam(r, "uuid")
	cfg, err := h.store.Share(r.Context(), shareUUID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "share not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cfg.DriverUUID == "" {
		writeJSON(w, http.StatusOK, tracking.LocationMessage{Success: false})
		return
	}
	point, err := h.store.DriverPosition(r.Context(), cfg.DriverUUID)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusOK, tracking.LocationMessage{Success: false})
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tracking.LocationMessage{
		Success:    true,
		CurrentLat: point.Lat,
		CurrentLng: point.Lng,
	})
}

type orderEnvelope struct {
	Success     bool            `json:"success"`
	OrderUpdate *tracking.Order `json:"order_update,omitempty"`
}

func (h *Handler) watchShare(w http.ResponseWriter, r *http.Request) {
	shareUUID := chi.URLParam(r, "uuid")
	cfg, err := h.store.Share(r.Context(), shareUUID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "share not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	orderUUID := r.URL.Query().Get("order_uuid")
	if orderUUID == "" {
		orderUUID = cfg.OrderUUID
	}
	if orderUUID == "" {
		writeJSON(w, http.StatusOK, orderEnvelope{Success: false})
		return
	}
	order, err := h.store.Order(r.Context(), orderUUID)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusOK, orderEnvelope{Success: false})
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, OrderUpdate: order})
}

func (h *Handler) createShare(w http.ResponseWriter, r *http.Request) {
	orderUUID := r.URL.Query().Get("order_uuid")
	accessToken := r.URL.Query().Get("access_token")
	if orderUUID == "" {
		http.Error(w, "order_uuid required", http.StatusBadRequest)
		return
	}
	if !h.verifyOrderAccess(orderUUID, accessToken) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	order, err := h.store.Order(r.Context(), orderUUID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	cfg, err := h.store.CreateShare(r.Context(), order)
	if err != nil {
		h.log.Warn("share creation failed", zap.String("order_uuid", orderUUID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	order.ShareUUID = cfg.UUID
	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, OrderUpdate: order})
}

// feedback returns the handler for one token-gated feedback endpoint. The
// body carries the scoped token; verified payloads are recorded and, when
// event is non-empty, queued for the push side via the outbox so watchers
// see them even if NATS is briefly down.
func (h *Handler) feedback(action, event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shareUUID := chi.URLParam(r, "uuid")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		token, _ := body[tokenField(action)].(string)
		if token == "" {
			token, _ = body["token"].(string)
		}
		if _, err := auth.VerifyShareToken(h.secret, token, shareUUID, action); err != nil {
			writeJSON(w, http.StatusOK, tracking.Result{Success: false, Message: "invalid " + action + " token"})
			return
		}
		delete(body, "token")
		if err := h.store.RecordFeedback(r.Context(), shareUUID, action, body); err != nil {
			h.log.Warn("feedback record failed", zap.String("action", action), zap.Error(err))
			writeJSON(w, http.StatusOK, tracking.Result{Success: false, Message: "could not record " + action})
			return
		}
		if event != "" && h.outbox != nil {
			if err := h.outbox.Enqueue(r.Context(), shareUUID, event, body); err != nil {
				h.log.Warn("feedback enqueue failed", zap.Error(err))
			}
		}
		writeJSON(w, http.StatusOK, tracking.Result{Success: true})
	}
}

func tokenField(action string) string {
	switch action {
	case "find_me":
		return "find_me_token"
	case "tip":
		return "tipToken"
	default:
		return "token"
	}
}

// ingestAlert accepts best-effort customer telemetry alerts. The bearer
// middleware has already bound the token to the share; only the permitted
// action is checked here.
func (h *Handler) ingestAlert(w http.ResponseWriter, r *http.Request) {
	shareUUID := chi.URLParam(r, "uuid")
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.Action != "alerting" {
		writeJSON(w, http.StatusOK, tracking.Result{Success: false})
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	alertsIngestedTotal.Inc()
	h.log.Info("customer alert", zap.String("share_uuid", shareUUID), zap.Any("alert", body))
	writeJSON(w, http.StatusOK, tracking.Result{Success: true})
}

// driversNear serves fleet tooling lookups of drivers close to a point.
func (h *Handler) driversNear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		http.Error(w, "lat and lng required", http.StatusBadRequest)
		return
	}
	radius := 1000.0
	if v, err := strconv.ParseFloat(q.Get("radius_m"), 64); err == nil && v > 0 {
		radius = v
	}
	limit := 10
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	drivers, err := h.store.DriversNear(r.Context(), tracking.GeoPoint{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		h.log.Warn("drivers near failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drivers": drivers})
}

// tipSignature mints an upload slot for the tip signature image.
func (h *Handler) tipSignature(w http.ResponseWriter, r *http.Request) {
	shareUUID := chi.URLParam(r, "uuid")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	token, _ := body["tipToken"].(string)
	if _, err := auth.VerifyShareToken(h.secret, token, shareUUID, "tip"); err != nil {
		writeJSON(w, http.StatusOK, tracking.Result{Success: false, Message: "invalid tip token"})
		return
	}
	name := uuid.NewString() + ".jpg"
	writeJSON(w, http.StatusOK, tracking.Result{
		Success: true,
		URL:     "/uploads/" + name,
		NoteID:  time.Now().UnixMilli(),
	})
}

// upload stores signature bytes under the minted name.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveUpload(r.Context(), name, data); err != nil {
		h.log.Warn("upload save failed", zap.String("name", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
