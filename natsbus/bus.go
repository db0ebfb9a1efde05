// Package natsbus carries domain events and work commands over NATS. Events
// fan out on the sr.events.* subjects; commands are queue-subscribed so only
// one worker picks each up.
package natsbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	sr "github.com/solver-ralph/sr"
)

type Config struct {
	// URL of the NATS server, e.g. nats://localhost:4222.
	URL string
	// Name identifies this client in NATS monitoring.
	Name string
	// QueueGroup, when set, makes Subscribe queue-subscribe so a subject is
	// load balanced across workers instead of fanned out.
	QueueGroup string
}

type bus struct {
	conn   *nats.Conn
	config Config
}

// Connect opens a NATS connection and returns a message bus over it.
func Connect(config Config) (sr.MessageBus, error) {
	opts := []nats.Option{}
	if config.Name != "" {
		opts = append(opts, nats.Name(config.Name))
	}
	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s, details: %v", config.URL, err)
	}
	return &bus{conn: conn, config: config}, nil
}

func (b *bus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s, details: %v", subject, err)
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context, subject string) (sr.Subscription, error) {
	ch := make(chan *nats.Msg, 256)
	var (
		sub *nats.Subscription
		err error
	)
	if b.config.QueueGroup != "" {
		sub, err = b.conn.ChanQueueSubscribe(subject, b.config.QueueGroup, ch)
	} else {
		sub, err = b.conn.ChanSubscribe(subject, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s, details: %v", subject, err)
	}
	return &subscription{sub: sub, ch: ch}, nil
}

// Close drains the connection, letting in-flight messages finish.
func (b *bus) Close() error {
	return b.conn.Drain()
}

type subscription struct {
	sub       *nats.Subscription
	ch        chan *nats.Msg
	closeOnce sync.Once
}

func (s *subscription) Next(ctx context.Context) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case msg, ok := <-s.ch:
		if !ok || msg == nil {
			return nil, false
		}
		return msg.Data, true
	}
}

func (s *subscription) Close() error {
	var err error
	// The channel is left open; NATS may still be delivering into it.
	s.closeOnce.Do(func() {
		err = s.sub.Unsubscribe()
	})
	return err
}
