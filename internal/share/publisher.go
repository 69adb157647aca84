package share

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// Publisher pushes tracking events onto the per-share NATS subjects the
// engine's channel subscribes to.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// NewPublisher builds a Publisher. prefix is the subject root, typically
// "track"; the share uuid and event name are appended per publish.
func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "track"
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Publish sends one event to every watcher of the share. Event names with
// spaces map to dotted subject tokens, mirroring the channel's mapping.
func (p *Publisher) Publish(ctx context.Context, shareUUID, event string, payload any) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	subject := p.prefix + "." + shareUUID + "." + strings.ReplaceAll(event, " ", ".")
	return p.conn.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: map[string][]string{
		"x-trace-id":   {traceIDFromContext(ctx)},
		"x-event-type": {event},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
