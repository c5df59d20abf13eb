// Package worker drains the replay.progress stream into Postgres in
// idempotent batches.
package worker

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/replay-platform/services/replay/internal/store"
)

// ProgressEvent is the payload the HTTP layer publishes for a progress save.
type ProgressEvent struct {
	EventID         string  `json:"event_id"`
	UserID          string  `json:"user_id"`
	ContentID       string  `json:"content_id"`
	EpisodeID       *string `json:"episode_id,omitempty"`
	PositionSeconds int     `json:"position_seconds"`
	ClientTsMs      int64   `json:"client_ts_ms"`
	CreatedAt       string  `json:"created_at"`
}

const (
	subject = "replay.progress"
	durable = "replay_progress"
)

// StartProgressConsumer pull-subscribes to replay.progress and applies each
// batch inside one transaction. A processed_events insert per event makes
// redelivery a no-op, so the at-least-once stream stays exactly-once at the
// database.
func StartProgressConsumer(ctx context.Context, nc *nats.Conn, pool *pgxpool.Pool, rule store.ReplayRule, log *zap.Logger) {
	js, err := nc.JetStream()
	if err != nil {
		log.Error("jetstream context unavailable", zap.Error(err))
		return
	}

	sub, err := js.PullSubscribe(subject, durable)
	if err != nil {
		log.Error("pull subscribe failed", zap.String("subject", subject), zap.Error(err))
		return
	}

	go func() {
		batchSize := envInt("WORKER_BATCH_SIZE", 100)
		batchInterval := envInt("WORKER_BATCH_INTERVAL_MS", 2000)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(batchSize, nats.MaxWait(time.Duration(batchInterval)*time.Millisecond))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Warn("fetch failed", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}
			if len(msgs) == 0 {
				continue
			}

			if err := applyBatch(ctx, pool, rule, msgs, log); err != nil {
				log.Warn("batch apply failed", zap.Int("batch", len(msgs)), zap.Error(err))
				nakAll(msgs, log)
				continue
			}
			ackAll(msgs, log)
		}
	}()
}

// applyBatch runs one transaction covering the dedupe inserts and the
// progress upserts for every message in the batch.
func applyBatch(ctx context.Context, pool *pgxpool.Pool, rule store.ReplayRule, msgs []*nats.Msg, log *zap.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st := store.NewPostgresProgressStore(tx, rule)

	for _, m := range msgs {
		var ev ProgressEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			// A poison message would wedge the stream on Nak; drop it and
			// keep the rest of the batch.
			log.Warn("dropping malformed event", zap.Error(err))
			continue
		}

		ct, err := tx.Exec(ctx,
			`INSERT INTO processed_events (event_id, subject, created_at, payload)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (event_id) DO NOTHING`,
			ev.EventID, subject, store.NormalizeTimestamp(ev.CreatedAt), m.Data)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			// Redelivered event, already applied.
			continue
		}

		uid, err := uuid.Parse(strings.TrimSpace(ev.UserID))
		if err != nil || strings.TrimSpace(ev.ContentID) == "" {
			log.Warn("dropping event with bad identifiers",
				zap.String("event_id", ev.EventID), zap.String("user_id", ev.UserID))
			continue
		}

		if _, err := st.Upsert(ctx, store.ProgressRecord{
			UserID:          uid,
			ContentID:       strings.TrimSpace(ev.ContentID),
			EpisodeID:       ev.EpisodeID,
			PositionSeconds: ev.PositionSeconds,
			ClientTsMs:      ev.ClientTsMs,
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func ackAll(msgs []*nats.Msg, log *zap.Logger) {
	for _, m := range msgs {
		if err := m.Ack(); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
	}
}

func nakAll(msgs []*nats.Msg, log *zap.Logger) {
	for _, m := range msgs {
		if err := m.Nak(); err != nil {
			log.Warn("nak failed", zap.Error(err))
		}
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
