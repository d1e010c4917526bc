package consumer

import (
	"context"
	"fmt"
	"sort"

	"vlog-platform/internal/domain"
)

// Handler applies one event to local state. It must be idempotent: the
// runtime may invoke it again for the same event after a crash.
type Handler func(ctx context.Context, ev domain.Event) error

// Route identifies the handler for an event.
type Route struct {
	Topic     string
	EventType string
}

// Dispatch maps (topic, event type) to handlers.
type Dispatch struct {
	routes map[Route]Handler
}

func NewDispatch() *Dispatch {
	return &Dispatch{routes: make(map[Route]Handler)}
}

// Register binds h to topic/eventType after checking the pair against the
// catalog. A second registration for the same route is an error.
func (d *Dispatch) Register(topic, eventType string, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s/%s", topic, eventType)
	}
	if err := domain.Validate(topic, eventType); err != nil {
		return err
	}
	r := Route{Topic: topic, EventType: eventType}
	if _, dup := d.routes[r]; dup {
		return fmt.Errorf("handler for %s/%s already registered", topic, eventType)
	}
	d.routes[r] = h
	return nil
}

// On registers h for eventType on its catalog topic.
func (d *Dispatch) On(eventType string, h Handler) error {
	topic, ok := domain.TopicFor(eventType)
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	return d.Register(topic, eventType, h)
}

func (d *Dispatch) Lookup(topic, eventType string) (Handler, bool) {
	h, ok := d.routes[Route{Topic: topic, EventType: eventType}]
	return h, ok
}

// Topics returns the distinct topics with at least one route, sorted.
func (d *Dispatch) Topics() []string {
	seen := make(map[string]struct{})
	for r := range d.routes {
		seen[r.Topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatch) Len() int { return len(d.routes) }
