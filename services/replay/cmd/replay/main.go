package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/replay-platform/internal/platform/analytics"
	"github.com/example/replay-platform/internal/platform/auth"
	platformconfig "github.com/example/replay-platform/internal/platform/config"
	platformdb "github.com/example/replay-platform/internal/platform/db"
	"github.com/example/replay-platform/internal/platform/httpserver"
	"github.com/example/replay-platform/internal/platform/logging"
	"github.com/example/replay-platform/internal/platform/natsconn"
	"github.com/example/replay-platform/internal/platform/run"
	"github.com/example/replay-platform/internal/platform/signing"
	"github.com/example/replay-platform/services/replay/internal/catalog"
	"github.com/example/replay-platform/services/replay/internal/config"
	"github.com/example/replay-platform/services/replay/internal/handlers"
	"github.com/example/replay-platform/services/replay/internal/progress"
	"github.com/example/replay-platform/services/replay/internal/store"
	"github.com/example/replay-platform/services/replay/internal/worker"
)

func main() {
	appCfg, err := platformconfig.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(appCfg.ServiceName, appCfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", zap.Error(err))
		run.Exit(1)
	}

	rule := store.ReplayRule{
		StartWindowSeconds: cfg.StartWindowSeconds,
		MinPriorSeconds:    cfg.MinPriorSeconds,
	}

	progressStore, pool, closePool := initProgressStore(log, appCfg.IsProduction(), rule)
	if closePool != nil {
		defer closePool()
	}
	titles := initCatalog(log, pool)

	verifier := auth.JWTVerifier{Secret: cfg.JWTSecret}

	var signer *handlers.PlaybackSigner
	if cfg.PlaybackSigningSecret != "" && cfg.PlaybackEdgeURL != "" {
		signer = &handlers.PlaybackSigner{
			Signer:   signing.New(cfg.PlaybackSigningSecret),
			EdgeBase: cfg.PlaybackEdgeURL,
			TTL:      cfg.PlaybackSignedURLTTL,
		}
	} else {
		log.Warn("playback signing disabled, stream URLs are served unsigned")
	}

	// NATS is optional: without it, saves apply synchronously and analytics
	// events are dropped.
	var js nats.JetStreamContext
	nc, err := natsconn.Connect(natsconn.Options{})
	if err != nil {
		log.Warn("nats unavailable, async writes and analytics disabled", zap.Error(err))
	} else {
		defer nc.Close()
		js, err = nc.JetStream()
		if err != nil {
			log.Warn("jetstream unavailable", zap.Error(err))
			js = nil
		}
	}

	svc := progress.NewService(progressStore, titles, analytics.New(js, log), log, progress.Config{
		CompleteThreshold: cfg.CompleteThreshold,
		ContinueDefault:   cfg.ContinueDefaultLimit,
		ContinueMax:       cfg.ContinueMaxLimit,
	})
	publisher := handlers.NewEventPublisher(js)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: readyFunc(pool)})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Post("/v1/progress", handlers.SaveProgress(svc, publisher))
		r.Get("/v1/progress/{content_id}/resume", handlers.Resume(svc))
		r.Get("/v1/continue-watching", handlers.ContinueWatching(svc, signer))
		r.Get("/v1/history", handlers.History(svc, signer))
	})

	srv := httpserver.New(httpserver.Options{Addr: appCfg.HTTP.Addr, ServiceName: appCfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		// The consumer needs both the stream and the durable store; with
		// either missing, the sync save path carries the load alone.
		if nc != nil && pool != nil {
			worker.StartProgressConsumer(ctx, nc, pool, rule, log.Named("progress_consumer"))
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initProgressStore selects the progress backend. Production requires a
// working Postgres connection and terminates the process otherwise.
func initProgressStore(log *zap.Logger, isProd bool, rule store.ReplayRule) (store.ProgressStore, *pgxpool.Pool, func()) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		if isProd {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory progress store (development only)")
		return store.NewInMemoryProgressStore(rule), nil, nil
	}

	pool, err := platformdb.OpenDSN(context.Background(), dsn)
	if err != nil {
		if isProd {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory progress store", zap.Error(err))
		return store.NewInMemoryProgressStore(rule), nil, nil
	}

	log.Info("progress store: postgres")
	return store.NewPostgresProgressStore(pool, rule), pool, pool.Close
}

// initCatalog reuses the progress pool when there is one; without Postgres
// the catalog is the in-memory one that development fixtures load into.
func initCatalog(log *zap.Logger, pool *pgxpool.Pool) catalog.Catalog {
	if pool == nil {
		log.Warn("catalog: in-memory (development only)")
		return catalog.NewInMemoryCatalog()
	}
	log.Info("catalog: postgres")
	return catalog.NewPostgresCatalog(pool)
}

func readyFunc(pool *pgxpool.Pool) func() error {
	if pool == nil {
		return nil
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}
