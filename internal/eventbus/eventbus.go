// Package eventbus fans protocol events out to subscribers keyed by event name.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 32

// Message is what wildcard subscribers receive
type Message struct {
	Key     string
	Payload any
}

type subscriber struct {
	ch  chan any
	all bool
}

// Bus is a keyed publish/subscribe hub. Publishing never blocks: a
// subscriber whose buffer is full misses the payload.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	all    map[*subscriber]struct{}
	buffer int
	log    *zap.Logger
}

// New constructs a ready Bus
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string]map[*subscriber]struct{}),
		all:    make(map[*subscriber]struct{}),
		buffer: DefaultBuffer,
		log:    log,
	}
}

// Subscribe registers interest in key. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(key string) (<-chan any, func()) {
	s := &subscriber{ch: make(chan any, b.buffer)}
	b.mu.Lock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[key] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], s)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// SubscribeAll receives every published payload wrapped in a Message
func (b *Bus) SubscribeAll() (<-chan any, func()) {
	s := &subscriber{ch: make(chan any, b.buffer), all: true}
	b.mu.Lock()
	b.all[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.all, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish delivers payload to every subscriber of key
func (b *Bus) Publish(key string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[key] {
		b.deliver(s, key, payload)
	}
	for s := range b.all {
		b.deliver(s, key, Message{Key: key, Payload: payload})
	}
}

func (b *Bus) deliver(s *subscriber, key string, v any) {
	select {
	case s.ch <- v:
	default:
		b.log.Debug("eventbus: subscriber full, dropping", zap.String("key", key))
	}
}

// Len returns the number of subscribers for key
func (b *Bus) Len(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
