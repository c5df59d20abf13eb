package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryProgressStore is a development and test implementation.
type InMemoryProgressStore struct {
	mu      sync.RWMutex
	rule    ReplayRule
	records map[uuid.UUID]map[string]ProgressRecord // user_id -> content_id -> record
}

func NewInMemoryProgressStore(rule ReplayRule) *InMemoryProgressStore {
	return &InMemoryProgressStore{
		rule:    rule,
		records: make(map[uuid.UUID]map[string]ProgressRecord),
	}
}

func (s *InMemoryProgressStore) Upsert(_ context.Context, rec ProgressRecord) (ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byContent := s.records[rec.UserID]
	if byContent == nil {
		byContent = make(map[string]ProgressRecord)
		s.records[rec.UserID] = byContent
	}

	existing, ok := byContent[rec.ContentID]
	if !ok {
		rec.ID = uuid.New()
		rec.PlayCount = 1
		rec.UpdatedAt = time.Now().UTC()
		byContent[rec.ContentID] = rec
		return rec, nil
	}

	// Stale write: an older client timestamp never overwrites a newer one.
	if rec.ClientTsMs < existing.ClientTsMs {
		return existing, nil
	}

	if s.rule.IsReplay(existing.PositionSeconds, rec.PositionSeconds) {
		existing.PlayCount++
	}
	existing.PositionSeconds = rec.PositionSeconds
	existing.ClientTsMs = rec.ClientTsMs
	existing.UpdatedAt = time.Now().UTC()
	if rec.EpisodeID != nil {
		existing.EpisodeID = rec.EpisodeID
	}
	byContent[rec.ContentID] = existing
	return existing, nil
}

func (s *InMemoryProgressStore) Get(_ context.Context, userID uuid.UUID, contentID string) (ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID][contentID]
	if !ok {
		return ProgressRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryProgressStore) List(_ context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ProgressRecord
	for _, rec := range s.records[userID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ContentID > out[j].ContentID
	})

	// Exclusive keyset bound: skip everything at or after the cursor position.
	if cursor != nil {
		idx := 0
		for idx < len(out) {
			rec := out[idx]
			if rec.UpdatedAt.Before(cursor.UpdatedAt) ||
				(rec.UpdatedAt.Equal(cursor.UpdatedAt) && rec.ContentID < cursor.ContentID) {
				break
			}
			idx++
		}
		out = out[idx:]
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
