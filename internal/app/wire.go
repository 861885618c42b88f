package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/leaselock/auctiond/internal/blob/s3"
	"github.com/leaselock/auctiond/internal/cache/redis"
	"github.com/leaselock/auctiond/internal/config"
	"github.com/leaselock/auctiond/internal/domain"
	"github.com/leaselock/auctiond/internal/engine"
	"github.com/leaselock/auctiond/internal/notify"
	"github.com/leaselock/auctiond/internal/service"
	"github.com/leaselock/auctiond/internal/store/postgres"
	"github.com/leaselock/auctiond/internal/watcher"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	Journal domain.EventJournal
	State   *postgres.StateStore
	Bus     domain.SignalBus
	Cursors domain.CursorStore
	Locks   domain.LockManager
	Locker  domain.ResourceLocker

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier

	Auctions *service.AuctionService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL: event journal and state store ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Postgres = pgClient
	journal := postgres.NewEventJournal(pgClient.Pool())
	deps.Journal = journal
	deps.State = postgres.NewStateStore(pgClient.Pool())

	// --- Redis: signal bus, locks, cursors ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Bus = redis.NewSignalBus(redisClient)
	deps.Cursors = redis.NewCursorStore(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- S3 blob storage: settled-auction archiver (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), journal)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Resource locker ---
	if cfg.Watcher.LockerURL != "" {
		deps.Locker = watcher.NewHTTPLocker(cfg.Watcher.LockerURL)
	} else {
		deps.Locker = watcher.NewLogLocker(logger.With(slog.String("component", "locker")))
	}

	// --- Auction service ---
	var archiver service.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	deps.Auctions = service.NewAuctionService(
		engine.New(),
		deps.Journal,
		deps.State,
		deps.Bus,
		deps.Locks,
		archiver,
		deps.Notifier,
		service.SystemClock{},
		logger,
	)

	return deps, cleanup, nil
}
