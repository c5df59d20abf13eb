package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testRule = ReplayRule{StartWindowSeconds: 15, MinPriorSeconds: 60}

func newTestStore() *InMemoryProgressStore { return NewInMemoryProgressStore(testRule) }

func TestUpsert_CreatesWithPlayCountOne(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	rec, err := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 30, ClientTsMs: 1000})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Fatal("expected generated record id")
	}
	if rec.PlayCount != 1 {
		t.Fatalf("expected play_count 1 on creation, got %d", rec.PlayCount)
	}
	if rec.PositionSeconds != 30 {
		t.Fatalf("expected position 30, got %d", rec.PositionSeconds)
	}
}

func TestUpsert_MergesSingleRecordPerPair(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	first, _ := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 30, ClientTsMs: 1000})
	second, err := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 45, ClientTsMs: 2000})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected the same record to be merge-updated, not a new one")
	}
	if second.PositionSeconds != 45 {
		t.Fatalf("expected position 45, got %d", second.PositionSeconds)
	}

	all, _ := s.List(ctx, uid, 0, nil)
	if len(all) != 1 {
		t.Fatalf("expected exactly one record per (user, content), got %d", len(all))
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 120, ClientTsMs: 5000})
	rec, err := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 120, ClientTsMs: 5000})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.PositionSeconds != 120 {
		t.Fatalf("expected position 120, got %d", rec.PositionSeconds)
	}
	if rec.PlayCount != 1 {
		t.Fatalf("expected play_count 1, got %d", rec.PlayCount)
	}
}

func TestUpsert_NoMonotonicityEnforced(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 100, ClientTsMs: 1000})
	rec, _ := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 40, ClientTsMs: 2000})
	if rec.PositionSeconds != 40 {
		t.Fatalf("a backward seek must win; expected 40, got %d", rec.PositionSeconds)
	}
}

func TestUpsert_StaleClientTimestampIgnored(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 300, ClientTsMs: 9000})
	rec, err := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 50, ClientTsMs: 1000})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.PositionSeconds != 300 {
		t.Fatalf("stale write should be ignored; expected 300, got %d", rec.PositionSeconds)
	}
}

func TestUpsert_ReplayBumpsPlayCount(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 3000, ClientTsMs: 1000})
	rec, _ := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 5, ClientTsMs: 2000})
	if rec.PlayCount != 2 {
		t.Fatalf("restart from the top should bump play_count to 2, got %d", rec.PlayCount)
	}

	// A mid-title backward seek is not a replay.
	rec, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 90, ClientTsMs: 3000})
	rec, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "movie-1", PositionSeconds: 40, ClientTsMs: 4000})
	if rec.PlayCount != 2 {
		t.Fatalf("mid-title seek should not bump play_count, got %d", rec.PlayCount)
	}
}

func TestUpsert_EpisodeRefPreserved(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()
	ep := "ep-s01e03"

	_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "ep-1", EpisodeID: &ep, PositionSeconds: 10, ClientTsMs: 1000})
	// Follow-up save without the episode ref must not clear it.
	rec, _ := s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: "ep-1", PositionSeconds: 20, ClientTsMs: 2000})
	if rec.EpisodeID == nil || *rec.EpisodeID != ep {
		t.Fatalf("expected episode ref %q preserved, got %v", ep, rec.EpisodeID)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), uuid.New(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_OrderedByUpdatedAtDesc(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	for i, id := range []string{"t1", "t2", "t3"} {
		_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: id, PositionSeconds: 10, ClientTsMs: int64(i + 1)})
		time.Sleep(time.Millisecond)
	}

	out, err := s.List(ctx, uid, 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].ContentID != "t3" || out[1].ContentID != "t2" || out[2].ContentID != "t1" {
		t.Fatalf("expected order t3,t2,t1; got %s,%s,%s", out[0].ContentID, out[1].ContentID, out[2].ContentID)
	}
}

func TestList_LimitAndCursor(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	uid := uuid.New()

	for i, id := range []string{"a", "b", "c", "d"} {
		_, _ = s.Upsert(ctx, ProgressRecord{UserID: uid, ContentID: id, PositionSeconds: 10, ClientTsMs: int64(i + 1)})
		time.Sleep(time.Millisecond)
	}

	page1, _ := s.List(ctx, uid, 2, nil)
	if len(page1) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page1))
	}

	last := page1[len(page1)-1]
	page2, _ := s.List(ctx, uid, 2, &Cursor{UpdatedAt: last.UpdatedAt, ContentID: last.ContentID})
	if len(page2) != 2 {
		t.Fatalf("expected second page of 2, got %d", len(page2))
	}
	seen := map[string]bool{}
	for _, r := range append(page1, page2...) {
		if seen[r.ContentID] {
			t.Fatalf("content %s returned on both pages", r.ContentID)
		}
		seen[r.ContentID] = true
	}
}

func TestList_IsolatedPerUser(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	_, _ = s.Upsert(ctx, ProgressRecord{UserID: u1, ContentID: "m1", PositionSeconds: 10, ClientTsMs: 1})
	_, _ = s.Upsert(ctx, ProgressRecord{UserID: u2, ContentID: "m2", PositionSeconds: 10, ClientTsMs: 1})

	out, _ := s.List(ctx, u1, 0, nil)
	if len(out) != 1 || out[0].ContentID != "m1" {
		t.Fatalf("expected only u1's record, got %v", out)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if got := NormalizeTimestamp(ref); !got.Equal(ref) {
		t.Fatalf("time.Time passthrough: got %v", got)
	}
	if got := NormalizeTimestamp(ref.UnixMilli()); !got.Equal(ref) {
		t.Fatalf("epoch millis int64: got %v", got)
	}
	if got := NormalizeTimestamp(float64(ref.UnixMilli())); !got.Equal(ref) {
		t.Fatalf("epoch millis float64: got %v", got)
	}
	if got := NormalizeTimestamp(ref.Format(time.RFC3339)); !got.Equal(ref) {
		t.Fatalf("RFC3339 string: got %v", got)
	}
	if got := NormalizeTimestamp("1714564800000"); !got.Equal(ref) {
		t.Fatalf("stringified millis: got %v", got)
	}
	if got := NormalizeTimestamp("definitely not a time"); !got.IsZero() {
		t.Fatalf("garbage should normalize to zero time, got %v", got)
	}
}

func TestProgressStoreInterface(t *testing.T) {
	var _ ProgressStore = (*InMemoryProgressStore)(nil)
	var _ ProgressStore = (*PostgresProgressStore)(nil)
}
