package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophcollab/internal/config"
	"github.com/iudanet/gophcollab/internal/server/channel"
	"github.com/iudanet/gophcollab/internal/server/documents"
	"github.com/iudanet/gophcollab/internal/server/events"
	"github.com/iudanet/gophcollab/internal/server/grouping"
	"github.com/iudanet/gophcollab/internal/server/jwt"
	"github.com/iudanet/gophcollab/internal/server/middleware"
	"github.com/iudanet/gophcollab/internal/server/storage"
	"github.com/iudanet/gophcollab/internal/server/storage/redis"
	"github.com/iudanet/gophcollab/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse flags
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// documentStore объединяет хранилище сессий и хранилище записей документов,
// которые могут находиться в разных бэкендах
type documentStore struct {
	storage.CollabStorage
	storage.DocumentStorage
}

// deps собранные зависимости сервера
type deps struct {
	grouping  *grouping.Service
	documents *documents.Service
	broker    *events.Broker
	hub       *channel.Hub
	tokens    *jwt.Service
	sqlite    *sqlite.Storage
	health    interface{ Ping(context.Context) error }
	closers   []io.Closer
}

func build(ctx context.Context, cfg config.Server, logger *slog.Logger) (*deps, error) {
	db, err := sqlite.New(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite storage: %w", err)
	}

	d := &deps{
		sqlite:  db,
		health:  db,
		closers: []io.Closer{db},
		tokens:  jwt.NewService(cfg.JWT.Secret, cfg.JWT.TokenTTL),
		broker:  events.NewBroker(logger),
	}

	store := documentStore{CollabStorage: db, DocumentStorage: db}
	switch cfg.Storage.Driver {
	case "sqlite", "":
	case "redis":
		rdb, err := redis.New(ctx, cfg.Storage.RedisURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		store.DocumentStorage = rdb
		d.health = multiPinger{db, rdb}
		d.closers = append(d.closers, rdb)
		logger.Info("document entries are stored in redis")
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	d.grouping = grouping.NewService(logger, d.broker, cfg.Grouping.BatchSize)
	d.documents = documents.NewService(logger, store, d.tokens, cfg.PublicURL, cfg.JWT.Secret)
	d.hub = channel.NewHub(logger, d.grouping)
	return d, nil
}

func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i].Close())
	}
	return errors.Join(errs...)
}

// multiPinger проверяет все хранилища
type multiPinger []interface{ Ping(context.Context) error }

func (m multiPinger) Ping(ctx context.Context) error {
	for _, p := range m {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("failed to close storage", slog.Any("error", err))
		}
	}()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, time.Minute, logger)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           newRouter(d, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("GophCollab server starting",
			slog.String("address", cfg.Address),
			slog.String("version", Version),
			slog.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
		defer cancel()
		// SSE и websocket соединения закрываются вместе с контекстом запросов
		srv.RegisterOnShutdown(d.broker.Close)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func printVersion() {
	fmt.Printf("GophCollab Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
