package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	log "log/slog"

	"github.com/jackc/pgx/v5"

	sr "github.com/solver-ralph/sr"
)

// MessageHash derives the idempotency key of an outbox message from the
// event's identity. Consumers that see the same hash twice drop the duplicate.
func MessageHash(eventID, streamID string, streamSeq uint64) string {
	h := sha256.New()
	h.Write([]byte(eventID))
	h.Write([]byte(streamID))
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], streamSeq)
	h.Write(seq[:])
	return hex.EncodeToString(h.Sum(nil))
}

// writeOutboxRow records an event for publication inside the append transaction.
func writeOutboxRow(ctx context.Context, tx pgx.Tx, e sr.EventEnvelope) error {
	message, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox message %s, details: %v", e.EventID, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO es.outbox (global_seq, topic, message, message_hash)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (message_hash) DO NOTHING`,
		e.GlobalSeq, sr.TopicForEvent(e.EventType), message,
		MessageHash(e.EventID, e.StreamID, e.StreamSeq))
	if err != nil {
		return fmt.Errorf("insert outbox row %s, details: %v", e.EventID, err)
	}
	return nil
}

// Publisher drains unpublished outbox rows to the message bus in outbox order.
// A failed publish stops the batch so ordering is preserved; the row stays
// unpublished and is retried on the next drain.
type Publisher struct {
	conn      *Connection
	bus       sr.MessageBus
	batchSize int
}

func NewPublisher(conn *Connection, bus sr.MessageBus) *Publisher {
	return &Publisher{conn: conn, bus: bus, batchSize: 100}
}

// DrainOnce publishes up to one batch of pending rows and returns how many
// were published.
func (p *Publisher) DrainOnce(ctx context.Context) (int, error) {
	rows, err := p.conn.Pool.Query(ctx,
		`SELECT outbox_id, topic, message FROM es.outbox
		 WHERE published_at IS NULL ORDER BY outbox_id LIMIT $1`, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("query outbox, details: %v", err)
	}
	type pending struct {
		id      int64
		topic   string
		message []byte
	}
	var batch []pending
	for rows.Next() {
		var row pending
		if err := rows.Scan(&row.id, &row.topic, &row.message); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row, details: %v", err)
		}
		batch = append(batch, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	published := 0
	for _, row := range batch {
		if err := p.bus.Publish(ctx, row.topic, row.message); err != nil {
			// Stop the batch; later rows must not overtake this one.
			return published, fmt.Errorf("publish outbox row %d to %s, details: %v", row.id, row.topic, err)
		}
		if _, err := p.conn.Pool.Exec(ctx,
			`UPDATE es.outbox SET published_at = now() WHERE outbox_id = $1`, row.id); err != nil {
			return published, fmt.Errorf("mark outbox row %d published, details: %v", row.id, err)
		}
		published++
	}
	return published, nil
}

// Run drains the outbox on an interval until the context is cancelled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.DrainOnce(ctx); err != nil {
				log.Warn("outbox drain failed", "published", n, "error", err.Error())
			}
		}
	}
}
