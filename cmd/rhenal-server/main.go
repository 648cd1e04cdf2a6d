// Package main is the entry point for the rhenal simulation server.
// It only handles dependency injection and server initialization.
// NO clinical logic belongs here.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robbie-med/rhenal/internal/engine"
	"github.com/robbie-med/rhenal/internal/events"
	"github.com/robbie-med/rhenal/internal/infra/ai"
	"github.com/robbie-med/rhenal/internal/infra/cache"
	"github.com/robbie-med/rhenal/internal/infra/storage"
	"github.com/robbie-med/rhenal/internal/network"
	"github.com/robbie-med/rhenal/internal/oracle"
	"github.com/robbie-med/rhenal/internal/platform/config"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "rhenal-server")
	if err != nil {
		config.Exitf("logger: %v", err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", logger.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Get()
	tuning := cfg.Tuning()
	g, ctx := errgroup.WithContext(ctx)

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	log.Info("oracle provider selected",
		logger.String("provider", provider.Name()),
		logger.Bool("available", provider.IsAvailable()))
	client := oracle.NewClient(provider, oracle.Options{
		Timeout:   cfg.OracleTimeout,
		MaxTokens: cfg.MaxTokens,
		Model:     cfg.OracleModel,
	}, log, m)

	repo, db, err := openJournal(cfg, tuning)
	if err != nil {
		return err
	}
	var journal *events.EventLog
	if repo != nil {
		defer db.Close()
		persister := storage.NewPersister(repo, tuning.CommandQueueBuffer, log, m)
		journal = events.NewEventLog(persister)
		g.Go(func() error { return persister.Run(ctx) })
	} else {
		journal = events.NewEventLog(nil)
		repo = storage.NewMemoryJournalRepository(journal)
	}
	journal.OnPersist(func(err error) {
		if err != nil {
			log.Warn("journal event not persisted", logger.Err(err))
		}
	})
	log.Info("journal ready", logger.String("driver", driverName(cfg)))

	eng := engine.NewEngine(client, journal, log, m, engine.Options{
		Start:         cfg.Start(time.Now()),
		Scale:         cfg.TimeScale,
		VitalsCadence: cfg.VitalsCadence,
		QueueSize:     tuning.CommandQueueBuffer,
	})
	g.Go(func() error {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	ticker := engine.NewTicker(eng, cfg.TickInterval, log)
	g.Go(func() error {
		ticker.Start(ctx)
		return nil
	})

	hub := network.NewHub(eng, journal, log, m, network.HubOptions{
		BroadcastBuffer: tuning.BroadcastChannelBuffer,
		ClientBuffer:    tuning.ClientSendBuffer,
		CommandTimeout:  cfg.OracleTimeout * 3,
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	hub.StartJournalPump(ctx)

	if cfg.RedisAddr != "" {
		rc, err := cache.NewGoRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: tuning.RedisPoolSize,
		})
		if err != nil {
			// The cache is optional; the engine stays authoritative.
			log.Warn("snapshot cache disabled", logger.String("addr", cfg.RedisAddr), logger.Err(err))
		} else {
			defer rc.Close()
			writer := cache.NewWriter(cache.NewSnapshotCache(rc, cfg.SnapshotTTL), eng, cfg.SnapshotEvery, log)
			g.Go(func() error { return writer.Run(ctx) })
			log.Info("snapshot cache enabled", logger.String("addr", cfg.RedisAddr))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.WebSocketHandler(ctx))
	network.NewJournalHandler(repo, func(ctx context.Context) (any, error) {
		return eng.Snapshot(ctx)
	}, log).RegisterRoutes(mux)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("http server listening", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newProvider(cfg *config.Config) (ai.LLMProvider, error) {
	gate := ai.NewBudgetGate(cfg.DailyBudgetUSD, cfg.DailyBudgetUSD*30)
	switch strings.ToLower(cfg.OracleProvider) {
	case "openai":
		return ai.NewOpenAIProvider(ai.ProviderConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OracleModel,
			Timeout: cfg.OracleTimeout,
		}, gate), nil
	case "anthropic":
		return ai.NewAnthropicProvider(ai.ProviderConfig{
			APIKey:  cfg.AnthropicKey,
			BaseURL: cfg.AnthropicURL,
			Model:   cfg.OracleModel,
			Timeout: cfg.OracleTimeout,
		}, gate), nil
	case "", "scripted":
		return ai.NewScriptedProvider(time.Now().UnixNano()), nil
	default:
		return nil, errors.New("unknown oracle provider " + cfg.OracleProvider)
	}
}

// openJournal returns a nil repository when no database is configured.
func openJournal(cfg *config.Config, tuning config.Tuning) (storage.JournalRepository, *sql.DB, error) {
	switch cfg.JournalDriver {
	case "":
		return nil, nil, nil
	case "sqlite":
		db, err := storage.InitSQLite(cfg.JournalDSN)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLiteJournalRepository(db), db, nil
	case "postgres":
		db, err := storage.InitPostgres(cfg.JournalDSN, tuning.DBMaxOpenConns, tuning.DBMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewPostgresJournalRepository(db), db, nil
	default:
		return nil, nil, errors.New("unknown journal driver " + cfg.JournalDriver)
	}
}

func driverName(cfg *config.Config) string {
	if cfg.JournalDriver == "" {
		return "memory"
	}
	return cfg.JournalDriver
}
