package natsbus

import (
	"context"
	"fmt"
	"time"

	sr "github.com/solver-ralph/sr"
)

// Deduper tracks processed message hashes in the shared cache so redelivered
// outbox messages are dropped instead of reprocessed.
type Deduper struct {
	cache sr.Cache
	ttl   time.Duration
}

func NewDeduper(cache sr.Cache, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{cache: cache, ttl: ttl}
}

func (d *Deduper) key(messageHash string) string {
	return "sr:processed:" + messageHash
}

// Seen reports whether the message hash was already processed.
func (d *Deduper) Seen(ctx context.Context, messageHash string) (bool, error) {
	found, _, err := d.cache.Get(ctx, d.key(messageHash))
	if err != nil {
		return false, fmt.Errorf("check idempotency key, details: %v", err)
	}
	return found, nil
}

// MarkProcessed records the message hash. Call after successful processing.
func (d *Deduper) MarkProcessed(ctx context.Context, messageHash string) error {
	if err := d.cache.Set(ctx, d.key(messageHash), "1", d.ttl); err != nil {
		return fmt.Errorf("set idempotency key, details: %v", err)
	}
	return nil
}
