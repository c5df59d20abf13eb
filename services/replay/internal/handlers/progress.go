package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/replay-platform/internal/platform/api"
	"github.com/example/replay-platform/internal/platform/auth"
	"github.com/example/replay-platform/internal/platform/httpserver"
	"github.com/example/replay-platform/internal/platform/signing"
	"github.com/example/replay-platform/services/replay/internal/progress"
	"github.com/example/replay-platform/services/replay/internal/store"
)

// SubjectProgress is the JetStream subject for async progress saves.
const SubjectProgress = "replay.progress"

type saveProgressRequest struct {
	ContentID       string  `json:"content_id"`
	EpisodeID       *string `json:"episode_id,omitempty"`
	PositionSeconds int     `json:"position_seconds"`
	ClientTsMs      int64   `json:"client_ts_ms"`
}

type progressPayload struct {
	ContentID       string  `json:"content_id"`
	EpisodeID       *string `json:"episode_id,omitempty"`
	PositionSeconds int     `json:"position_seconds"`
	PlayCount       int     `json:"play_count"`
	UpdatedAtMs     int64   `json:"updated_at_ms"`
	ClientTsMs      int64   `json:"client_ts_ms"`
}

type watchItem struct {
	Title struct {
		ContentID     string `json:"content_id"`
		Kind          string `json:"kind"`
		Name          string `json:"name"`
		SeriesName    string `json:"series_name,omitempty"`
		SeasonNumber  int32  `json:"season_number,omitempty"`
		EpisodeNumber int32  `json:"episode_number,omitempty"`
		ArtworkURL    string `json:"artwork_url,omitempty"`
		StreamURL     string `json:"stream_url,omitempty"`
	} `json:"title"`
	Progress        progressPayload `json:"progress"`
	ProgressPercent float64         `json:"progress_percent"`
}

type continueResponse struct {
	Items      []watchItem `json:"items"`
	Limit      int         `json:"limit"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type historyResponse struct {
	Items []watchItem `json:"items"`
}

type resumeResponse struct {
	ContentID       string `json:"content_id"`
	PositionSeconds int    `json:"position_seconds"`
	StreamURL       string `json:"stream_url,omitempty"`
}

// PlaybackSigner attaches per-user expiring signatures to stream URLs.
// A nil receiver leaves URLs unsigned.
type PlaybackSigner struct {
	Signer   *signing.Signer
	EdgeBase string
	TTL      time.Duration
}

func (p *PlaybackSigner) SignFor(rawURL, userID string) string {
	if p == nil || p.Signer == nil || rawURL == "" {
		return rawURL
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	signed := p.Signer.Sign(rawURL, userID, time.Now().Add(ttl))
	out, err := signing.BuildSignedURL(p.EdgeBase, signed)
	if err != nil {
		return rawURL
	}
	return out
}

// SaveProgress handles POST /v1/progress.
// With JetStream available the save is published and acknowledged with 202;
// otherwise it is applied synchronously.
func SaveProgress(svc *progress.Service, publisher *EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := userID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		var req saveProgressRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
			return
		}
		if strings.TrimSpace(req.ContentID) == "" {
			api.BadRequest(w, "MISSING_ID", "content_id is required", rid, nil)
			return
		}
		if req.ClientTsMs == 0 {
			req.ClientTsMs = time.Now().UnixMilli()
		}

		if publisher.Enabled() {
			payload := map[string]any{
				"user_id":          uid.String(),
				"content_id":       strings.TrimSpace(req.ContentID),
				"position_seconds": req.PositionSeconds,
				"client_ts_ms":     req.ClientTsMs,
			}
			if req.EpisodeID != nil {
				payload["episode_id"] = *req.EpisodeID
			}
			eventID, err := publisher.PublishJSON(SubjectProgress, payload)
			if err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, "EVENT_PUBLISH_FAILED", "failed to publish event", rid, nil)
				return
			}
			w.Header().Set("X-Event-ID", eventID)
			w.WriteHeader(http.StatusAccepted)
			return
		}

		rec, err := svc.Save(r.Context(), progress.SaveInput{
			UserID:          uid,
			ContentID:       strings.TrimSpace(req.ContentID),
			EpisodeID:       req.EpisodeID,
			PositionSeconds: req.PositionSeconds,
			ClientTsMs:      req.ClientTsMs,
		})
		if err != nil {
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, toProgressPayload(rec))
	}
}

// ContinueWatching handles GET /v1/continue-watching.
func ContinueWatching(svc *progress.Service, signer *PlaybackSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := userID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		limit := 25
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < 1 {
					n = 1
				}
				if n > 100 {
					n = 100
				}
				limit = n
			}
		}
		cursor := decodeCursor(r.URL.Query().Get("cursor"))

		items, next, err := svc.ContinueWatching(r.Context(), uid, limit, cursor)
		if err != nil {
			api.Internal(w, rid)
			return
		}

		out := continueResponse{Items: make([]watchItem, 0, len(items)), Limit: limit}
		for _, it := range items {
			out.Items = append(out.Items, toWatchItem(it, uid.String(), signer))
		}
		if next != nil {
			out.NextCursor = encodeCursor(next.UpdatedAt.UnixMilli(), next.ContentID)
		}
		api.WriteJSON(w, http.StatusOK, out)
	}
}

// History handles GET /v1/history: the full watch history, completed titles included.
func History(svc *progress.Service, signer *PlaybackSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := userID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		items, err := svc.History(r.Context(), uid)
		if err != nil {
			api.Internal(w, rid)
			return
		}

		out := historyResponse{Items: make([]watchItem, 0, len(items))}
		for _, it := range items {
			out.Items = append(out.Items, toWatchItem(it, uid.String(), signer))
		}
		api.WriteJSON(w, http.StatusOK, out)
	}
}

// Resume handles GET /v1/progress/{content_id}/resume: the seed a player
// seeks to once its media is seekable. Missing records seed 0.
func Resume(svc *progress.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := userID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		contentID := strings.TrimSpace(chi.URLParam(r, "content_id"))
		if contentID == "" {
			api.BadRequest(w, "MISSING_ID", "content_id is required", rid, nil)
			return
		}

		seconds := svc.Resume(r.Context(), uid, contentID)
		api.WriteJSON(w, http.StatusOK, resumeResponse{ContentID: contentID, PositionSeconds: seconds})
	}
}

func userID(r *http.Request) (uuid.UUID, bool) {
	raw, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	uid, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, false
	}
	return uid, true
}

func toProgressPayload(rec store.ProgressRecord) progressPayload {
	return progressPayload{
		ContentID:       rec.ContentID,
		EpisodeID:       rec.EpisodeID,
		PositionSeconds: rec.PositionSeconds,
		PlayCount:       rec.PlayCount,
		UpdatedAtMs:     rec.UpdatedAt.UnixMilli(),
		ClientTsMs:      rec.ClientTsMs,
	}
}

func toWatchItem(it progress.Item, uid string, signer *PlaybackSigner) watchItem {
	var out watchItem
	out.Title.ContentID = it.Title.ID
	out.Title.Kind = string(it.Title.Kind)
	out.Title.Name = it.Title.Name
	out.Title.SeriesName = it.Title.SeriesName
	out.Title.SeasonNumber = it.Title.SeasonNumber
	out.Title.EpisodeNumber = it.Title.EpisodeNumber
	out.Title.ArtworkURL = it.Title.ArtworkURL
	out.Title.StreamURL = signer.SignFor(it.Title.StreamURL, uid)
	out.Progress = toProgressPayload(it.Record)
	out.ProgressPercent = it.Percent
	return out
}

// encodeCursor encodes updated_at millis and the content id as an opaque cursor.
func encodeCursor(tsMs int64, contentID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(tsMs, 10) + ":" + contentID))
}

// decodeCursor parses the opaque cursor produced by encodeCursor.
// Malformed cursors decode to nil (start from the top).
func decodeCursor(raw string) *store.Cursor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	return &store.Cursor{
		UpdatedAt: time.UnixMilli(ts).UTC(),
		ContentID: parts[1],
	}
}
