package catalog

import (
	"context"
)

type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

// Title is the catalog's view of one playable piece of content: a movie or a
// single episode. Episodes carry their parent series name for display.
type Title struct {
	ID             string
	Kind           Kind
	Name           string
	SeriesName     string
	SeasonNumber   int32
	EpisodeNumber  int32
	ArtworkURL     string
	StreamURL      string
	Runtime        string // display runtime, e.g. "2h 30min"
	RuntimeSeconds int32  // authoritative when > 0
}

// DurationSeconds resolves the total duration, preferring the explicit
// seconds field over the parsed display runtime. Unknown durations are 0.
func (t Title) DurationSeconds() int {
	if t.RuntimeSeconds > 0 {
		return int(t.RuntimeSeconds)
	}
	return ParseRuntime(t.Runtime)
}

// Catalog resolves content identifiers to titles. IDs with no matching title
// are simply absent from the result; that is normal, not an error.
type Catalog interface {
	GetTitlesByIDs(ctx context.Context, ids []string) ([]Title, error)
}
