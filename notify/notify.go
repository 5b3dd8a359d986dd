// Package notify fans extension and package change events out to admin
// clients and to other server instances.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	ExtensionUpdated   = "extension.updated"
	ExtensionDeleted   = "extension.deleted"
	PackageInstalled   = "package.installed"
	PackageUninstalled = "package.uninstalled"
)

// Event describes one change.
type Event struct {
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher delivers events to one transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notifier stamps events and hands them to every publisher. Publisher
// failures are logged, never returned.
type Notifier struct {
	origin     string
	publishers []Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotifier creates a Notifier with a random origin id.
func NewNotifier(logger *slog.Logger, publishers ...Publisher) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		origin:     uuid.NewString(),
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
	}
}

// Origin identifies this process in published events.
func (n *Notifier) Origin() string { return n.origin }

// Add registers another publisher.
func (n *Notifier) Add(p Publisher) { n.publishers = append(n.publishers, p) }

// Notify publishes kind for name.
func (n *Notifier) Notify(ctx context.Context, kind, name string) {
	ev := Event{Kind: kind, Name: name, Origin: n.origin, At: n.now().UTC()}
	for _, p := range n.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			n.logger.Warn("publish event failed", "kind", kind, "name", name, "error", err)
		}
	}
}

// Local adapts an event handler to a Publisher so events raised in this
// process reach it without a broker.
func Local(handle func(Event)) Publisher {
	return localPublisher(handle)
}

type localPublisher func(Event)

func (h localPublisher) Publish(_ context.Context, ev Event) error {
	h(ev)
	return nil
}

// PackageInvalidator returns an event handler that calls forget for package
// install and uninstall events from any origin.
func PackageInvalidator(forget func(name string)) func(Event) {
	return func(ev Event) {
		switch ev.Kind {
		case PackageInstalled, PackageUninstalled:
			forget(ev.Name)
		}
	}
}

// Invalidator returns an event handler that calls invalidate for
// extension events raised by other origins.
func Invalidator(origin string, invalidate func(name string)) func(Event) {
	return func(ev Event) {
		if ev.Origin == origin {
			return
		}
		switch ev.Kind {
		case ExtensionUpdated, ExtensionDeleted:
			invalidate(ev.Name)
		}
	}
}
