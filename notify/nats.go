package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject events are exchanged on.
const DefaultSubject = "enfyra.extensions"

// NATSBus shares events between server instances.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBus connects to url. An empty subject uses DefaultSubject.
func NewNATSBus(url, subject string, logger *slog.Logger) (*NATSBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url, nats.Name("enfyra"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSBus{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends ev on the bus subject.
func (b *NATSBus) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe delivers every event received on the subject to handle.
func (b *NATSBus) Subscribe(handle func(Event)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("discarding malformed event", "subject", msg.Subject, "error", err)
			return
		}
		handle(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", b.subject, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close unsubscribes and drains the connection.
func (b *NATSBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "subject", b.subject, "error", err)
		}
	}
	b.subs = nil
	b.conn.Close()
}
