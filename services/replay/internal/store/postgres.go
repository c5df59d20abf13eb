package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx querying shared by pgxpool.Pool and pgx.Tx, so the
// same store can run standalone or inside the consumer's batch transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProgressStore is the production Postgres-backed implementation.
type PostgresProgressStore struct {
	db   DB
	rule ReplayRule
}

func NewPostgresProgressStore(db DB, rule ReplayRule) *PostgresProgressStore {
	return &PostgresProgressStore{db: db, rule: rule}
}

func (s *PostgresProgressStore) Upsert(ctx context.Context, rec ProgressRecord) (ProgressRecord, error) {
	q := `
INSERT INTO user_viewing_progress (id, user_id, content_id, episode_id, position_seconds, play_count, client_ts_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
ON CONFLICT (user_id, content_id)
DO UPDATE SET
  position_seconds = EXCLUDED.position_seconds,
  episode_id       = COALESCE(EXCLUDED.episode_id, user_viewing_progress.episode_id),
  play_count       = user_viewing_progress.play_count
                     + CASE WHEN EXCLUDED.position_seconds <= $8
                                 AND user_viewing_progress.position_seconds >= $9
                            THEN 1 ELSE 0 END,
  client_ts_ms     = EXCLUDED.client_ts_ms,
  updated_at       = EXCLUDED.updated_at
WHERE user_viewing_progress.client_ts_ms <= EXCLUDED.client_ts_ms
RETURNING id, episode_id, position_seconds, play_count, client_ts_ms, updated_at`

	out := ProgressRecord{UserID: rec.UserID, ContentID: rec.ContentID}
	err := s.db.QueryRow(ctx, q,
		uuid.New(), rec.UserID, rec.ContentID, rec.EpisodeID, rec.PositionSeconds,
		rec.ClientTsMs, time.Now().UTC(),
		s.rule.StartWindowSeconds, s.rule.MinPriorSeconds,
	).Scan(&out.ID, &out.EpisodeID, &out.PositionSeconds, &out.PlayCount, &out.ClientTsMs, &out.UpdatedAt)

	if err != nil {
		// WHERE clause blocked a stale write; return the current state instead.
		if errors.Is(err, pgx.ErrNoRows) {
			return s.Get(ctx, rec.UserID, rec.ContentID)
		}
		return ProgressRecord{}, fmt.Errorf("upsert progress: %w", err)
	}
	return out, nil
}

func (s *PostgresProgressStore) Get(ctx context.Context, userID uuid.UUID, contentID string) (ProgressRecord, error) {
	q := `SELECT id, episode_id, position_seconds, play_count, client_ts_ms, updated_at
	      FROM user_viewing_progress WHERE user_id=$1 AND content_id=$2`
	out := ProgressRecord{UserID: userID, ContentID: contentID}
	err := s.db.QueryRow(ctx, q, userID, contentID).
		Scan(&out.ID, &out.EpisodeID, &out.PositionSeconds, &out.PlayCount, &out.ClientTsMs, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProgressRecord{}, ErrNotFound
		}
		return ProgressRecord{}, fmt.Errorf("get progress: %w", err)
	}
	return out, nil
}

func (s *PostgresProgressStore) List(ctx context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]ProgressRecord, error) {
	q := `SELECT id, content_id, episode_id, position_seconds, play_count, client_ts_ms, updated_at
	      FROM user_viewing_progress WHERE user_id=$1`
	args := []any{userID}

	if cursor != nil {
		q += " AND (updated_at, content_id) < (to_timestamp($2 / 1000.0), $3)"
		args = append(args, cursor.UpdatedAt.UnixMilli(), cursor.ContentID)
	}
	q += " ORDER BY updated_at DESC, content_id DESC"
	if limit > 0 {
		q += " LIMIT $" + strconv.Itoa(len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []ProgressRecord
	for rows.Next() {
		rec := ProgressRecord{UserID: userID}
		if err := rows.Scan(&rec.ID, &rec.ContentID, &rec.EpisodeID, &rec.PositionSeconds, &rec.PlayCount, &rec.ClientTsMs, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list progress: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
