package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries the replay service's tuning knobs. Everything has a
// sensible default except the JWT secret.
type Config struct {
	JWTSecret []byte

	// CompleteThreshold is the watched fraction at which a title leaves
	// the continue-watching rail, in (0, 1].
	CompleteThreshold float64

	// Replay detection: an incoming position at or below StartWindowSeconds
	// on a record at or past MinPriorSeconds counts as a fresh play.
	StartWindowSeconds int
	MinPriorSeconds    int

	ContinueDefaultLimit int
	ContinueMaxLimit     int

	// Playback edge signing. Empty secret disables signing.
	PlaybackSigningSecret string
	PlaybackEdgeURL       string
	PlaybackSignedURLTTL  time.Duration
}

func Load() (Config, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	cfg := Config{
		JWTSecret:             []byte(secret),
		CompleteThreshold:     envFloat("REPLAY_COMPLETE_THRESHOLD", 0.95),
		StartWindowSeconds:    envInt("REPLAY_START_WINDOW_SECONDS", 15),
		MinPriorSeconds:       envInt("REPLAY_MIN_PRIOR_SECONDS", 60),
		ContinueDefaultLimit:  envInt("REPLAY_CONTINUE_DEFAULT_LIMIT", 25),
		ContinueMaxLimit:      envInt("REPLAY_CONTINUE_MAX_LIMIT", 100),
		PlaybackSigningSecret: strings.TrimSpace(os.Getenv("PLAYBACK_SIGNING_SECRET")),
		PlaybackEdgeURL:       strings.TrimSpace(os.Getenv("PLAYBACK_EDGE_URL")),
		PlaybackSignedURLTTL:  envDuration("PLAYBACK_SIGNED_URL_TTL", 6*time.Hour),
	}
	if cfg.CompleteThreshold <= 0 || cfg.CompleteThreshold > 1 {
		return Config{}, errors.New("REPLAY_COMPLETE_THRESHOLD must be in (0, 1]")
	}
	return cfg, nil
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

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
