package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/tracking"
)

const responderQueue = "share-responders"

// Responder answers the engine's push-side requests: the watch
// subscriptions and the customer handshake. Replies carry the same result
// envelope the REST API speaks, and a successful watch-order reply embeds
// the authoritative configuration snapshot.
type Responder struct {
	conn   *nats.Conn
	store  *Store
	log    *zap.Logger
	prefix string
	subs   []*nats.Subscription
}

// NewResponder builds a Responder for the given subject prefix.
func NewResponder(conn *nats.Conn, store *Store, prefix string, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "track"
	}
	return &Responder{conn: conn, store: store, log: logger, prefix: prefix}
}

// Start subscribes to the request subjects. Queue subscriptions keep one
// reply per request when several servers run.
func (r *Responder) Start() error {
	routes := []struct {
		suffix  string
		handler nats.MsgHandler
	}{
		{"watch.order", r.onWatchOrder},
		{"watch.driver", r.onAck},
		{"watch.way.point", r.onAck},
		{"customer.connect", r.onAck},
	}
	for _, route := range routes {
		subject := r.prefix + ".*." + route.suffix
		sub, err := r.conn.QueueSubscribe(subject, responderQueue, route.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

// Close drops the request subscriptions.
func (r *Responder) Close() error {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
	return nil
}

func (r *Responder) onWatchOrder(msg *nats.Msg) {
	shareUUID := r.shareFromSubject(msg.Subject)
	r.reply(msg, r.watchOrderResult(context.Background(), shareUUID))
}

func (r *Responder) onAck(msg *nats.Msg) {
	r.reply(msg, tracking.Result{Success: true})
}

// watchOrderResult builds the acknowledgment for a watch-order request: an
// authoritative configuration snapshot, an expired marker, or a failure.
func (r *Responder) watchOrderResult(ctx context.Context, shareUUID string) tracking.Result {
	cfg, err := r.store.Share(ctx, shareUUID)
	if errors.Is(err, ErrNotFound) {
		return tracking.Result{Success: false, Message: "unknown share"}
	}
	if err != nil {
		r.log.Warn("share load failed", zap.String("share_uuid", shareUUID), zap.Error(err))
		return tracking.Result{Success: false, Message: "internal error"}
	}
	if cfg.Expired.Bool() {
		return tracking.Result{Success: false, Expired: true, Message: "share expired"}
	}
	return tracking.Result{Success: true, SharedLocation: cfg}
}

// shareFromSubject extracts the share uuid token that follows the prefix.
func (r *Responder) shareFromSubject(subject string) string {
	rest := strings.TrimPrefix(subject, r.prefix+".")
	if i := strings.IndexByte(rest, '.'); i > 0 {
		return rest[:i]
	}
	return rest
}

func (r *Responder) reply(msg *nats.Msg, result tracking.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		r.log.Warn("encode reply failed", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Debug("reply dropped", zap.String("subject", msg.Subject), zap.Error(err))
	}
}
