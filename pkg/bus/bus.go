// Package bus carries progress events from a running pipeline to whoever is
// displaying it. A run publishes on topics keyed by its run ID (see
// package events), and a view attaches one handler per topic for the
// lifetime of the run.
package bus

import (
	"fmt"

	eventbus "github.com/asaskevich/EventBus"
)

type Subscriber interface {
	Subscribe(topic string, fn any) error
	Unsubscribe(topic string, handler any) error
}

type Publisher interface {
	Publish(topic string, args ...any)
}

type Bus interface {
	Subscriber
	Publisher
}

// New returns a bus that delivers events synchronously on the publishing
// goroutine. Pipeline workers publish concurrently, so handlers must be quick
// and safe for concurrent use.
func New() Bus {
	return &syncBus{eventbus.New()}
}

type syncBus struct {
	bus eventbus.Bus
}

func (b *syncBus) Publish(topic string, args ...any) {
	b.bus.Publish(topic, args...)
}

func (b *syncBus) Subscribe(topic string, handler any) error {
	return b.bus.Subscribe(topic, handler)
}

func (b *syncBus) Unsubscribe(topic string, handler any) error {
	return b.bus.Unsubscribe(topic, handler)
}

// Discard drops everything published to it. Pipelines built without a bus
// publish here.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, ...any) {}

// Handler pairs a topic with the func handling its events.
type Handler struct {
	Topic string
	Fn    any
}

// Attach subscribes every handler. If one subscription fails, the ones
// already made are undone. The returned detach func unsubscribes them all.
func Attach(sub Subscriber, handlers ...Handler) (detach func(), err error) {
	detach = func() {}
	for i, h := range handlers {
		if err := sub.Subscribe(h.Topic, h.Fn); err != nil {
			unsubscribe(sub, handlers[:i])
			return detach, fmt.Errorf("subscribing to %s: %w", h.Topic, err)
		}
	}
	return func() { unsubscribe(sub, handlers) }, nil
}

func unsubscribe(sub Subscriber, handlers []Handler) {
	for _, h := range handlers {
		_ = sub.Unsubscribe(h.Topic, h.Fn)
	}
}
