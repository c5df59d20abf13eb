package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/replay-platform/internal/platform/analytics"
	"github.com/example/replay-platform/services/replay/internal/catalog"
	"github.com/example/replay-platform/services/replay/internal/store"
)

// Config carries the product knobs of the progress service.
type Config struct {
	// CompleteThreshold is the watch ratio at which a title leaves the
	// continue-watching rail (it stays in history). Encodes credits-skipping
	// tolerance, hence configurable.
	CompleteThreshold float64
	ContinueDefault   int
	ContinueMax       int
}

func (c Config) withDefaults() Config {
	if c.CompleteThreshold <= 0 || c.CompleteThreshold > 1 {
		c.CompleteThreshold = 0.95
	}
	if c.ContinueDefault <= 0 {
		c.ContinueDefault = 25
	}
	if c.ContinueMax <= 0 {
		c.ContinueMax = 100
	}
	return c
}

// Item is a progress record joined with its resolved title and the derived
// completion percentage.
type Item struct {
	Title   catalog.Title
	Record  store.ProgressRecord
	Percent float64
}

type Service struct {
	store   store.ProgressStore
	catalog catalog.Catalog
	events  *analytics.Publisher
	log     *zap.Logger
	cfg     Config
}

func NewService(st store.ProgressStore, cat catalog.Catalog, events *analytics.Publisher, log *zap.Logger, cfg Config) *Service {
	return &Service{store: st, catalog: cat, events: events, log: log, cfg: cfg.withDefaults()}
}

// SaveInput is one position checkpoint from a playback session.
type SaveInput struct {
	UserID          uuid.UUID
	ContentID       string
	EpisodeID       *string
	PositionSeconds int
	ClientTsMs      int64
}

// Save upserts a viewing-progress checkpoint and emits playback analytics.
func (s *Service) Save(ctx context.Context, in SaveInput) (store.ProgressRecord, error) {
	if in.PositionSeconds < 0 {
		in.PositionSeconds = 0
	}
	if in.ClientTsMs == 0 {
		in.ClientTsMs = time.Now().UnixMilli()
	}

	prev, err := s.store.Get(ctx, in.UserID, in.ContentID)
	isNew := errors.Is(err, store.ErrNotFound)
	if err != nil && !isNew {
		return store.ProgressRecord{}, err
	}

	out, err := s.store.Upsert(ctx, store.ProgressRecord{
		UserID:          in.UserID,
		ContentID:       in.ContentID,
		EpisodeID:       in.EpisodeID,
		PositionSeconds: in.PositionSeconds,
		ClientTsMs:      in.ClientTsMs,
	})
	if err != nil {
		return store.ProgressRecord{}, err
	}

	s.publishPlaybackEvents(ctx, prev, out, isNew)
	return out, nil
}

// Resume returns the position a player should seek to for (user, content).
// Lookup misses and failures both resolve to 0: a missing seed degrades to
// starting from the top, never to an error the viewer sees.
func (s *Service) Resume(ctx context.Context, userID uuid.UUID, contentID string) int {
	rec, err := s.store.Get(ctx, userID, contentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("resume lookup failed", zap.String("content_id", contentID), zap.Error(err))
		}
		return 0
	}
	return rec.PositionSeconds
}

// ContinueWatching lists the user's resumable titles, most recent first.
// Records whose title no longer exists and records past the completion
// threshold are dropped. The returned cursor continues the listing; it is
// nil when the page was not full.
func (s *Service) ContinueWatching(ctx context.Context, userID uuid.UUID, limit int, cursor *store.Cursor) ([]Item, *store.Cursor, error) {
	if limit <= 0 {
		limit = s.cfg.ContinueDefault
	}
	if limit > s.cfg.ContinueMax {
		limit = s.cfg.ContinueMax
	}

	recs, err := s.store.List(ctx, userID, limit, cursor)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.resolve(ctx, recs)
	if err != nil {
		return nil, nil, err
	}

	out := items[:0]
	for _, it := range items {
		if it.Percent >= s.cfg.CompleteThreshold*100 {
			continue
		}
		out = append(out, it)
	}

	var next *store.Cursor
	if len(recs) == limit {
		last := recs[len(recs)-1]
		next = &store.Cursor{UpdatedAt: last.UpdatedAt, ContentID: last.ContentID}
	}
	return out, next, nil
}

// History lists the user's full watch history, most recent first, with no
// completion filter and no cap.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	recs, err := s.store.List(ctx, userID, 0, nil)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, recs)
}

// Percent is the completion percentage for a position within a duration,
// clamped to [0,100]. An unknown (zero) duration is defined as 0% so such
// titles never auto-complete.
func Percent(positionSeconds, durationSeconds int) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	p := float64(positionSeconds) / float64(durationSeconds) * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// resolve joins records with catalog titles, dropping records whose title
// can no longer be found (underlying content deleted).
func (s *Service) resolve(ctx context.Context, recs []store.ProgressRecord) ([]Item, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ContentID)
	}

	titles, err := s.fetchTitlesConcurrently(ctx, ids, 20)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]catalog.Title, len(titles))
	for _, t := range titles {
		byID[t.ID] = t
	}

	out := make([]Item, 0, len(recs))
	for _, r := range recs {
		t, ok := byID[r.ContentID]
		if !ok {
			continue
		}
		out = append(out, Item{
			Title:   t,
			Record:  r,
			Percent: Percent(r.PositionSeconds, t.DurationSeconds()),
		})
	}
	return out, nil
}

// fetchTitlesConcurrently resolves catalog titles in parallel chunks to
// reduce tail latency on wide continue-watching pages.
func (s *Service) fetchTitlesConcurrently(ctx context.Context, ids []string, chunkSize int) ([]catalog.Title, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if chunkSize <= 0 {
		chunkSize = 20
	}
	if len(ids) <= chunkSize {
		return s.catalog.GetTitlesByIDs(ctx, ids)
	}

	tasks := (len(ids) + chunkSize - 1) / chunkSize
	ch := make(chan []catalog.Title, tasks)
	errCh := make(chan error, tasks)
	var wg sync.WaitGroup
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			titles, err := s.catalog.GetTitlesByIDs(ctx, chunk)
			if err != nil {
				errCh <- err
				return
			}
			ch <- titles
		}(ids[i:end])
	}
	wg.Wait()
	close(ch)
	close(errCh)
	if len(errCh) > 0 {
		return nil, <-errCh
	}
	var out []catalog.Title
	for titles := range ch {
		out = append(out, titles...)
	}
	return out, nil
}

func (s *Service) publishPlaybackEvents(ctx context.Context, prev, cur store.ProgressRecord, isNew bool) {
	uid := cur.UserID.String()
	props := map[string]any{"content_id": cur.ContentID, "position_seconds": cur.PositionSeconds}

	if isNew {
		s.events.Publish(analytics.SubjectPlaybackStarted, "playback_started", uid, props)
		return
	}
	if cur.PlayCount > prev.PlayCount {
		s.events.Publish(analytics.SubjectPlaybackReplayed, "playback_replayed", uid, props)
	}

	dur := s.duration(ctx, cur.ContentID)
	if dur <= 0 {
		return
	}
	threshold := s.cfg.CompleteThreshold * 100
	if Percent(prev.PositionSeconds, dur) < threshold && Percent(cur.PositionSeconds, dur) >= threshold {
		s.events.Publish(analytics.SubjectPlaybackCompleted, "playback_completed", uid, props)
	}
}

func (s *Service) duration(ctx context.Context, contentID string) int {
	titles, err := s.catalog.GetTitlesByIDs(ctx, []string{contentID})
	if err != nil || len(titles) == 0 {
		return 0
	}
	return titles[0].DurationSeconds()
}
