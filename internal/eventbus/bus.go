package eventbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Topic names a stream of events.
type Topic string

const (
	TopicStatus  Topic = "status"
	TopicQR      Topic = "qr"
	TopicMessage Topic = "message"
)

// Handler receives the payload published on a topic. A returned error is logged and
// does not stop delivery to the remaining handlers.
type Handler func(payload any) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe hub. Publish calls every handler
// registered for the topic, in registration order, on the publishing goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]subscription
	nextID   uint64
	log      zerolog.Logger
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Topic][]subscription),
		log:      log,
	}
}

// Subscribe appends a handler to the topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			// copy so a Publish iterating an older snapshot is unaffected
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.handlers[topic] = next
			return
		}
	}
}

// Publish delivers payload to the handlers registered at the time of the call.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	subs := b.handlers[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(s.handler, payload); err != nil {
			b.log.Warn().Err(err).Str("topic", string(topic)).Uint64("subscriber", s.id).Msg("event handler failed")
		}
	}
}

func (b *Bus) deliver(h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(payload)
}

// Channel adapts a topic to a buffered channel. Delivery never blocks the publisher:
// when the buffer is full the payload is dropped. The returned function unsubscribes
// and closes the channel.
func (b *Bus) Channel(topic Topic, buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)
	var mu sync.Mutex
	closed := false

	unsubscribe := b.Subscribe(topic, func(payload any) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- payload:
			return nil
		default:
			return fmt.Errorf("channel subscriber full, dropped %s event", topic)
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}
