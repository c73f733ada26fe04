package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/channelvault/channelvault/internal/cache"
	"github.com/channelvault/channelvault/internal/config"
	"github.com/channelvault/channelvault/internal/epg"
	"github.com/channelvault/channelvault/internal/fetcher"
	"github.com/channelvault/channelvault/internal/livecache"
	"github.com/channelvault/channelvault/internal/metrics"
	"github.com/channelvault/channelvault/internal/server"
	"github.com/channelvault/channelvault/internal/service"
	"github.com/channelvault/channelvault/internal/store"
)

// syncLockKey guards the periodic scheduler across instances so two replicas
// never run overlapping sync cycles against the same database.
const syncLockKey = "livetv:sync:lock"

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.AppEnv)
	ctx := context.Background()

	// Run migrations.
	absMigrations, err := filepath.Abs("migrations")
	if err != nil {
		absMigrations = "migrations"
	}
	if _, err := os.Stat(absMigrations); err != nil {
		if exe, e := os.Executable(); e == nil {
			absMigrations = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	if err := store.RunMigrations(cfg.DatabaseURL, "file://"+absMigrations); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer pg.Close()

	// Connect to Redis if REDIS_URL is configured.
	var rds *cache.Redis
	var appStore store.Store = pg
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer rds.Close()

		if err := rds.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("redis ping")
		}

		appStore = store.NewCachedStore(pg, rds)
		log.Info().Msg("redis connected (caching enabled)")
	} else {
		log.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	fileCache := livecache.New(cfg.CacheDir)
	fetch := fetcher.New(cfg.UserAgent, cfg.FetchTimeout)
	parser := epg.NewParser(log)
	syncer := service.New(appStore, fileCache, fetch, parser, log, cfg.FetchConcurrency)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SyncInterval > 0 {
		go runScheduler(ctx, log, syncer, rds, cfg.SyncInterval)
	} else {
		log.Info().Msg("periodic sync disabled (SYNC_INTERVAL=0)")
	}

	srv := server.New(appStore, fileCache, syncer, cfg, log)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

// runScheduler fires a sync cycle immediately and then on every tick. When
// Redis is available each cycle runs under a distributed lock; a replica
// that loses the race skips the tick instead of double-syncing.
func runScheduler(ctx context.Context, log zerolog.Logger, syncer *service.Syncer, rds *cache.Redis, interval time.Duration) {
	log = log.With().Str("component", "scheduler").Logger()
	log.Info().Dur("interval", interval).Msg("sync scheduler started")

	run := func() {
		if rds != nil {
			unlock, err := cache.TryLock(ctx, rds, syncLockKey, interval)
			if errors.Is(err, cache.ErrLocked) {
				log.Info().Msg("sync already running elsewhere, skipping tick")
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("sync lock failed, running unguarded")
			} else {
				defer unlock()
			}
		}
		if _, err := syncer.SyncAllUsers(ctx); err != nil {
			log.Error().Err(err).Msg("sync cycle failed")
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync scheduler stopping")
			return
		case <-ticker.C:
			run()
		}
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "dev" || appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}
