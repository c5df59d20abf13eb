package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads titles from the catalog tables.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) GetTitlesByIDs(ctx context.Context, ids []string) ([]Title, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := `SELECT id, kind, name, COALESCE(series_name, ''), COALESCE(season_number, 0),
	             COALESCE(episode_number, 0), COALESCE(artwork_url, ''), COALESCE(stream_url, ''),
	             COALESCE(runtime, ''), COALESCE(runtime_seconds, 0)
	      FROM titles WHERE id = ANY($1)`

	rows, err := c.db.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("get titles: %w", err)
	}
	defer rows.Close()

	var out []Title
	for rows.Next() {
		var t Title
		var kind string
		if err := rows.Scan(&t.ID, &kind, &t.Name, &t.SeriesName, &t.SeasonNumber,
			&t.EpisodeNumber, &t.ArtworkURL, &t.StreamURL, &t.Runtime, &t.RuntimeSeconds); err != nil {
			return nil, fmt.Errorf("get titles: %w", err)
		}
		t.Kind = Kind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}
