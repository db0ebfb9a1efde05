package inmemory

import (
	"context"
	"sync"

	sr "github.com/solver-ralph/sr"
)

// Bus is a channel-backed message bus for tests. Publish fans out to every
// active subscription on the subject.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*busSubscription

	// Published records every message for assertions.
	Published []PublishedMessage
}

type PublishedMessage struct {
	Subject string
	Payload []byte
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*busSubscription),
	}
}

func (b *Bus) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	b.Published = append(b.Published, PublishedMessage{Subject: subject, Payload: payload})
	targets := append([]*busSubscription(nil), b.subs[subject]...)
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, subject string) (sr.Subscription, error) {
	sub := &busSubscription{
		bus:     b,
		subject: subject,
		ch:      make(chan []byte, 128),
	}
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()
	return sub, nil
}

type busSubscription struct {
	bus     *Bus
	subject string
	ch      chan []byte
	once    sync.Once
}

func (s *busSubscription) Next(ctx context.Context) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case msg, ok := <-s.ch:
		return msg, ok
	}
}

func (s *busSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		subs := s.bus.subs[s.subject]
		for i, sub := range subs {
			if sub == s {
				s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}
