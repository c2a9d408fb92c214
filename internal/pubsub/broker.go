// Package pubsub fans out change notifications to in-process subscribers,
// optionally bridged across instances through Redis.
package pubsub

import (
	"context"
	"sync"
)

// Broker publishes payloads on topics and hands out subscriptions
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string) *Subscription
}

// Local delivers published payloads to subscribers in the same process
type Local struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewLocal creates an in-process broker
func NewLocal() *Local {
	return &Local{subs: make(map[string]map[*Subscription]struct{})}
}

// Publish delivers payload to every current subscriber of topic
func (b *Local) Publish(ctx context.Context, topic string, payload []byte) error {
	b.Deliver(topic, payload)
	return nil
}

// Deliver hands payload to the subscribers of topic without blocking
func (b *Local) Deliver(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		sub.offer(payload)
	}
}

// Subscribe registers a subscription on topic. Payloads published after
// Subscribe returns are never missed.
func (b *Local) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic:  topic,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		remove: b.unsubscribe,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Subscribers returns the number of live subscriptions on topic
func (b *Local) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Local) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[sub.topic]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.topic)
	}
}

// Subscription is a single-slot mailbox: every payload is a full state
// snapshot, so a newer payload replaces an undelivered older one and
// publishers never block on slow consumers.
type Subscription struct {
	topic  string
	ready  chan struct{}
	done   chan struct{}
	remove func(*Subscription)

	mu      sync.Mutex
	latest  []byte
	pending bool
	closed  bool
}

func (s *Subscription) offer(payload []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.latest = payload
	s.pending = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled when Take has a payload
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Done is closed once the subscription is closed
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Topic returns the subscribed topic
func (s *Subscription) Topic() string { return s.topic }

// Take returns the newest undelivered payload
func (s *Subscription) Take() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending || s.closed {
		return nil, false
	}
	s.pending = false
	p := s.latest
	s.latest = nil
	return p, true
}

// Close detaches the subscription from its broker. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.latest = nil
	s.mu.Unlock()

	s.remove(s)
	close(s.done)
}
