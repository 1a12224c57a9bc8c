package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/config"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/database"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/directory"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/handlers"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/logging"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/middleware"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/repositories"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/services"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/workerpool"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ResolveDockerHosts()

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("store", cfg.Store.Backend),
		zap.String("directory", cfg.Directory.BaseURL),
		zap.Bool("redis", cfg.Redis.Host != ""))

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	snapshots, closeCache, err := openSnapshotCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	ownershipRepo := repositories.NewCachedOwnershipRepository(store.ownership, snapshots, logger)

	dirClient := directory.NewClient(directory.ClientOptions{
		BaseURL:       cfg.Directory.BaseURL,
		Timeout:       cfg.Directory.Timeout,
		TokenProvider: directory.ContextToken(directory.StaticToken(cfg.Directory.Token)),
	}, logger)

	pool := workerpool.New(workerpool.Config{MaxConcurrent: cfg.Status.Concurrency}, logger)

	ownershipSync := services.NewOwnershipSync(
		services.NewAggregator(ownershipRepo, logger),
		store.companies,
		services.SyncConfig{
			AfterWriteDelay: cfg.Sync.AfterWriteDelay,
			RetryDelay:      cfg.Sync.RetryDelay,
		},
		logger,
	)
	siteService := services.NewSiteService(ownershipRepo, dirClient, ownershipSync, services.ContextConfirmer, logger)
	statusMonitor := services.NewSiteStatusMonitor(dirClient, pool, cfg.Status.TTL, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, ownershipSync, logger).RegisterRoutes(mux)
	handlers.NewOwnershipHandler(ownershipSync, statusMonitor, logger).RegisterRoutes(mux)
	handlers.NewSiteHandler(siteService, ownershipSync, statusMonitor, logger).RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(middleware.DirectoryToken(mux))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The first snapshot is built in the background; /health reports readiness.
	go func() {
		result, err := ownershipSync.Refresh(ctx, false)
		if err != nil {
			logger.Warn("Initial ownership refresh failed", zap.Error(err))
			return
		}
		logger.Info("Initial ownership loaded",
			zap.Uint64("seq", result.Seq),
			zap.Bool("from_cache", result.FromCache))
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting site ownership service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// ownershipStore is the selected store backend.
type ownershipStore struct {
	ownership repositories.OwnershipRepository
	companies repositories.CompanyRepository
	close     func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ownershipStore, error) {
	if cfg.Store.Backend == "memory" {
		mem, err := repositories.NewMemoryStore()
		if err != nil {
			return nil, err
		}
		if cfg.Store.SeedFile != "" {
			seed, err := repositories.LoadSeedFile(cfg.Store.SeedFile)
			if err != nil {
				return nil, err
			}
			if err := mem.Load(seed); err != nil {
				return nil, fmt.Errorf("failed to load seed file: %w", err)
			}
			logger.Info("Loaded seed file",
				zap.String("path", cfg.Store.SeedFile),
				zap.Int("companies", len(seed.Companies)),
				zap.Int("sites", len(seed.Sites)))
		}
		return &ownershipStore{ownership: mem, companies: mem, close: func() {}}, nil
	}

	logger.Info("Connecting to PostgreSQL",
		zap.String("url", logging.SanitizeConnectionString(cfg.Database.URL())))
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(stdlib.OpenDBFromPool(db.Pool), cfg.Store.MigrationsPath, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &ownershipStore{
		ownership: repositories.NewOwnershipRepository(db),
		companies: repositories.NewCompanyRepository(db),
		close:     db.Close,
	}, nil
}

func openSnapshotCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SnapshotCache, func(), error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		logger.Info("Redis not configured, caching ownership snapshots in process")
		return repositories.NewMemorySnapshotCache(cfg.Store.SnapshotTTL), func() {}, nil
	}
	return repositories.NewRedisSnapshotCache(client, cfg.Store.SnapshotTTL), func() { _ = client.Close() }, nil
}
