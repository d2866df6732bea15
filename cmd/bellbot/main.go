package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/config"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/engine"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/ledger"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/logging"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/metrics"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/pubsub"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/taskqueue"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/transport/telegram"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/worker"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bellbot exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("bellbot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	promObserver, err := metrics.NewObserver(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
	if err != nil {
		return err
	}
	bot.PollTimeout = cfg.Telegram.PollTimeout

	bus, err := pubsub.Open(ctx, pubsub.Options{
		Driver:        cfg.PubSub.Driver,
		Broker:        cfg.PubSub.Broker,
		ClientID:      cfg.PubSub.ClientID,
		Username:      cfg.PubSub.Username,
		Password:      cfg.PubSub.Password,
		RedisAddr:     cfg.PubSub.RedisAddr,
		RedisPassword: cfg.PubSub.RedisPassword,
		RedisDB:       cfg.PubSub.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	engCfg := engine.Config{
		Messenger:    bot,
		Notifier:     bus,
		Observer:     api.NewCompositeObserver(api.NewLoggingObserver(logger), promObserver),
		SurveyDelay:  cfg.Telegram.SurveyDelay,
		ClaimedTopic: cfg.PubSub.Topics.Claimed,
		Location:     loc,
		Logger:       logger,
	}
	eng, closeDB, err := openEngine(cfg.Database, engCfg)
	if err != nil {
		return err
	}
	defer closeDB()
	defer eng.Close()

	q, closeQueue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	w := worker.NewWithConfig(eng, q, bot, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		TaskTimeout: cfg.Worker.TaskTimeout,
		Logger:      logger,
	})

	logger.Info("starting bellbot",
		slog.String("database", cfg.Database.Driver),
		slog.String("pubsub", cfg.PubSub.Driver),
		slog.String("queue", cfg.Worker.Queue),
		slog.Duration("survey_delay", cfg.Telegram.SurveyDelay),
		slog.String("timezone", loc.String()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return bot.Listen(gctx, q) })
	g.Go(func() error {
		if err := bus.Subscribe(gctx, cfg.PubSub.Topics.Bell, pubsub.BellHandler(w.EnqueueRing, logger)); err != nil {
			return err
		}
		return bus.Subscribe(gctx, cfg.PubSub.Topics.Status, pubsub.StatusHandler(logger))
	})
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Server, logger) })
	}

	return g.Wait()
}

// openEngine builds the engine over the configured ledger. The returned func
// closes the database handle, if any.
func openEngine(dbCfg config.DatabaseConfig, engCfg engine.Config) (api.Engine, func(), error) {
	var (
		db  *sql.DB
		eng api.Engine
		err error
	)
	switch dbCfg.Driver {
	case config.DatabaseMemory:
		eng, err = engine.NewInMemoryEngine(engCfg)
	case config.DatabaseSQLite:
		if db, err = ledger.OpenSQLite(dbCfg.File); err == nil {
			eng, err = engine.NewSQLiteEngine(db, engCfg, ledger.WithDebug(dbCfg.Debug))
		}
	case config.DatabasePostgres:
		if db, err = ledger.OpenPostgres(dbCfg.URL); err == nil {
			eng, err = engine.NewPostgresEngine(db, engCfg, ledger.WithDebug(dbCfg.Debug))
		}
	default:
		err = fmt.Errorf("unknown database driver %q", dbCfg.Driver)
	}

	closeDB := func() {}
	if db != nil {
		closeDB = func() { _ = db.Close() }
	}
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return eng, closeDB, nil
}

func openQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (taskqueue.Queue, func(), error) {
	if cfg.Worker.Queue != config.QueueRedis {
		return taskqueue.NewInMemoryQueue(cfg.Worker.QueueCapacity), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.PubSub.RedisAddr,
		Password: cfg.PubSub.RedisPassword,
		DB:       cfg.PubSub.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis queue: %w", err)
	}
	return taskqueue.NewRedisQueue(client, "bellbot:", logger), func() { _ = client.Close() }, nil
}

func serveMetrics(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         cfg.MetricsAddress,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("address", cfg.MetricsAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", slog.Any("error", err))
	}
	return nil
}
