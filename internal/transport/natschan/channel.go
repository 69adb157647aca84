// Package natschan carries the tracking engine's push channel over NATS.
// Each engine event name maps to one subject under a per-share prefix, so
// every consumer of a share sees the same stream.
package natschan

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/tracking"
)

const defaultAckTimeout = 5 * time.Second

// Channel implements tracking.Channel on a NATS connection. Outbound emits
// are request/reply so the server can acknowledge; inbound events are plain
// subscriptions. The connect and disconnect events are not subjects: they
// are synthesized from the NATS connection state, so a handler registered
// on an already-open connection fires right away.
type Channel struct {
	conn    *nats.Conn
	prefix  string
	log     *zap.Logger
	timeout time.Duration

	mu           sync.Mutex
	subs         map[string]*nats.Subscription
	onConnect    func(payload []byte)
	onDisconnect func(payload []byte)
}

// Config tunes a Channel.
type Config struct {
	// Prefix namespaces every subject, typically "track.<share_uuid>".
	Prefix string
	// AckTimeout bounds how long an Emit waits for an acknowledgment.
	// Zero means 5 seconds.
	AckTimeout time.Duration
	Logger     *zap.Logger
}

// New builds a Channel using the provided NATS connection.
func New(conn *nats.Conn, cfg Config) *Channel {
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Channel{
		conn:    conn,
		prefix:  cfg.Prefix,
		log:     cfg.Logger,
		timeout: cfg.AckTimeout,
		subs:    make(map[string]*nats.Subscription),
	}
}

// subject maps an engine event name onto a NATS subject. Event names
// contain spaces ("way point done"); subjects cannot, so spaces become
// subject tokens.
func (c *Channel) subject(event string) string {
	token := strings.ReplaceAll(event, " ", ".")
	if c.prefix == "" {
		return token
	}
	return c.prefix + "." + token
}

// Emit publishes a request and waits in the background for the reply. A
// reply delivers its payload to ack; a timeout delivers nil, which the
// engine reads as no acknowledgment at all.
func (c *Channel) Emit(event string, payload any, ack func(result []byte)) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return fmt.Errorf("emit %s: not connected", event)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	subj := c.subject(event)
	go func() {
		msg, err := c.conn.Request(subj, data, c.timeout)
		if ack == nil {
			return
		}
		if err != nil {
			c.log.Debug("no reply", zap.String("subject", subj), zap.Error(err))
			ack(nil)
			return
		}
		ack(msg.Data)
	}()
	return nil
}

// On subscribes the handler to an event, replacing any previous handler
// for the same event. Connect and disconnect handlers ride the connection
// lifecycle instead of a subscription.
func (c *Channel) On(event string, handler func(payload []byte)) {
	switch event {
	case tracking.EventConnect:
		c.mu.Lock()
		c.onConnect = handler
		c.mu.Unlock()
		if c.conn != nil {
			c.conn.SetReconnectHandler(func(*nats.Conn) { c.fireLifecycle(tracking.EventConnect) })
			if c.conn.IsConnected() {
				go handler(nil)
			}
		}
		return
	case tracking.EventDisconnect:
		c.mu.Lock()
		c.onDisconnect = handler
		c.mu.Unlock()
		if c.conn != nil {
			c.conn.SetDisconnectErrHandler(func(*nats.Conn, error) { c.fireLifecycle(tracking.EventDisconnect) })
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.subs[event]; ok {
		_ = prev.Unsubscribe()
		delete(c.subs, event)
	}
	sub, err := c.conn.Subscribe(c.subject(event), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		c.log.Warn("subscribe failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.subs[event] = sub
}

func (c *Channel) fireLifecycle(event string) {
	c.mu.Lock()
	var handler func(payload []byte)
	switch event {
	case tracking.EventConnect:
		handler = c.onConnect
	case tracking.EventDisconnect:
		handler = c.onDisconnect
	}
	c.mu.Unlock()
	if handler != nil {
		handler(nil)
	}
}

// Off removes the handler for an event if one is registered.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch event {
	case tracking.EventConnect:
		c.onConnect = nil
		return
	case tracking.EventDisconnect:
		c.onDisconnect = nil
		return
	}
	if sub, ok := c.subs[event]; ok {
		_ = sub.Unsubscribe()
		delete(c.subs, event)
	}
}

// Close drops every subscription and lifecycle handler. The NATS connection
// itself is owned by the caller and stays open.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for event, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, event)
	}
	c.onConnect = nil
	c.onDisconnect = nil
	return nil
}

var _ tracking.Channel = (*Channel)(nil)
