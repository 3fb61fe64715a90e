package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/api/rest"
	"github.com/gaveldrop/auction-backend/internal/api/websocket"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/cache"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/config"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/database"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/email"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/events"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/repository"
	"github.com/gaveldrop/auction-backend/internal/infrastructure/telemetry"
	"github.com/gaveldrop/auction-backend/internal/service/bidding"
	"github.com/gaveldrop/auction-backend/internal/service/decision"
	"github.com/gaveldrop/auction-backend/internal/service/lifecycle"
	"github.com/gaveldrop/auction-backend/internal/service/notification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting auction backend",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres
	db, err := database.NewConnectionPool(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis: one client shared by the cache and the bid rate limiter
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	auctionCache := cache.NewAuctionCache(cache.NewRedisCacheFromClient(redisClient, logger), logger)
	bidLimiter := cache.NewRedisRateLimiter(redisClient, logger)

	// Repositories
	auctions := repository.NewAuctionRepository(db.Pool())
	bids := repository.NewBidRepository(db.Pool())
	notifications := repository.NewNotificationRepository(db.Pool())
	uow := repository.NewBidUnitOfWork(db, auctions, bids)
	lifecycleStore := repository.NewLifecycleStore(db, auctions, bids)

	// Event fan-out
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	sinks := []notification.EventSink{hub}
	var journal *events.Journal
	if cfg.Kafka.Enabled {
		journal = events.NewJournal(&cfg.Kafka, logger)
		journal.Start(ctx)
		sinks = append(sinks, journal)
	}

	mailer := email.NewMailer(&cfg.Email, nil, logger)
	notifier := notification.NewNotifier(sinks, notifications, auctionCache, bids, mailer, logger)

	// Services
	bidService := bidding.NewService(uow, auctionCache, bidLimiter, notifier, logger, bidding.Config{
		BidWindowLimit: cfg.Bidding.BidWindowLimit,
		BidWindow:      cfg.Bidding.BidWindow,
		Currency:       cfg.Bidding.Currency,
	})
	decisionService := decision.NewService(auctions, auctionCache, notifier, logger, decision.Config{
		Currency: cfg.Bidding.Currency,
	})
	sweeper := lifecycle.NewSweeper(lifecycleStore, auctionCache, notifier, logger, lifecycle.Config{
		Interval:   cfg.Sweeper.Interval,
		DedupReset: cfg.Sweeper.DedupReset,
		BatchSize:  cfg.Sweeper.BatchSize,
	})
	sweeper.Start(ctx)

	// HTTP
	handler := rest.NewHandler(bidService, decisionService, auctions, bids, hub, logger)
	server := rest.NewServer(&cfg.Server, handler, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	sweeper.Stop()
	hub.Stop()
	if journal != nil {
		journal.WaitClosed()
	}

	logger.Info("shutdown complete")
	return nil
}
