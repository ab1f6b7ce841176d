package bus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"phone_island/native/internal/logging"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrPayloadType  = errors.New("payload type mismatch")
)

// Handler receives the payload of a published event.
type Handler func(payload any)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe channel keyed by event name.
type Bus struct {
	log *logrus.Entry

	mu     sync.RWMutex
	nextID uint64
	subs   map[Name][]subscription
}

// New creates an empty bus. A nil logger discards output.
func New(log *logrus.Entry) *Bus {
	if log == nil {
		log = logging.Discard()
	}
	return &Bus{log: log, subs: make(map[Name][]subscription)}
}

// Subscribe registers handler for name and returns the function that removes it.
func (b *Bus) Subscribe(name Name, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			// copy so that a dispatch in progress keeps its snapshot intact
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[name] = next
			return
		}
	}
}

// Publish delivers payload to the handlers subscribed to name when Publish is
// called, in registration order, on the caller's goroutine.
// A nil payload stands for Empty{}.
func (b *Bus) Publish(name Name, payload any) error {
	spec, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if payload == nil {
		payload = Empty{}
	}
	if reflect.TypeOf(payload) != reflect.TypeOf(spec.Payload) {
		return fmt.Errorf("%w: %s wants %T, got %T", ErrPayloadType, name, spec.Payload, payload)
	}

	b.mu.RLock()
	snapshot := b.subs[name]
	b.mu.RUnlock()

	b.log.Debugf("publish %s to %d subscriber(s)", name, len(snapshot))
	for _, s := range snapshot {
		s.handler(payload)
	}
	return nil
}

// Emit publishes and logs a failure instead of returning it. Components use
// it for outbound confirmations, which have no caller to report to.
func (b *Bus) Emit(name Name, payload any) {
	if err := b.Publish(name, payload); err != nil {
		b.log.Errorf("emit %s: %v", name, err)
	}
}

// On subscribes a typed handler. Payloads of another type are logged and dropped.
func On[T any](b *Bus, name Name, handler func(T)) (unsubscribe func()) {
	return b.Subscribe(name, func(payload any) {
		typed, ok := payload.(T)
		if !ok {
			b.log.Warnf("%s: dropping payload %T, expected %T", name, payload, *new(T))
			return
		}
		handler(typed)
	})
}
