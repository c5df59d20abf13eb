package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProgressRecord is the durable representation of how far a user has watched
// a piece of content. ContentID is opaque; uniqueness scope is per user.
type ProgressRecord struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ContentID       string
	EpisodeID       *string // set when ContentID refers to an episode
	PositionSeconds int
	PlayCount       int
	ClientTsMs      int64
	UpdatedAt       time.Time
}

// Cursor is the decoded form of the opaque pagination cursor.
type Cursor struct {
	UpdatedAt time.Time
	ContentID string
}

// ReplayRule decides when a position save counts as starting the title over,
// which is what bumps the play count.
type ReplayRule struct {
	StartWindowSeconds int // incoming position at or below this is "from the start"
	MinPriorSeconds    int // stored position must be past this for a restart to count
}

// IsReplay reports whether saving incoming over prior restarts the title.
func (r ReplayRule) IsReplay(prior, incoming int) bool {
	return incoming <= r.StartWindowSeconds && prior >= r.MinPriorSeconds
}

// ErrNotFound is returned when no progress record exists for a (user, content) pair.
var ErrNotFound = errors.New("progress record not found")

// ProgressStore defines persistence operations for viewing progress.
type ProgressStore interface {
	// Upsert inserts or merge-updates the record for (UserID, ContentID),
	// ignoring stale writes (ClientTsMs older than the stored one).
	// Returns the current (possibly unchanged) record.
	Upsert(ctx context.Context, rec ProgressRecord) (ProgressRecord, error)
	// Get returns the record for an exact (user, content) match or ErrNotFound.
	Get(ctx context.Context, userID uuid.UUID, contentID string) (ProgressRecord, error)
	// List returns records ordered by UpdatedAt DESC. cursor, if non-nil, acts
	// as an exclusive lower bound for keyset pagination. limit <= 0 means no cap.
	List(ctx context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]ProgressRecord, error)
}

// NormalizeTimestamp converts any wire representation of a timestamp
// (time.Time, epoch millis as int64/float64, RFC3339 string, stringified
// millis) to a UTC time.Time. Everything past this boundary sees one type.
// Unrecognized input yields the zero time.
func NormalizeTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}
