package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/chat-gateway/auth"
	"github.com/upb/chat-gateway/config"
	"github.com/upb/chat-gateway/handlers"
	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/middleware"
	"github.com/upb/chat-gateway/repositories"
	"github.com/upb/chat-gateway/repositories/memory"
	"github.com/upb/chat-gateway/repositories/postgres"
	redisrepo "github.com/upb/chat-gateway/repositories/redis"
	"github.com/upb/chat-gateway/services/audit"
	"github.com/upb/chat-gateway/services/chat"
	"github.com/upb/chat-gateway/services/providers"
	"github.com/upb/chat-gateway/services/session"
)

const defaultAuditStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Optional backends
	RepoFactory *postgres.RepositoryFactory
	Redis       goredis.UniversalClient

	// Repositories
	Sessions    repositories.SessionRepository
	ChatRecords repositories.ChatRecordRepository

	// Services
	Knowledge *Knowledge
	Providers *providers.Registry
	Audit     *audit.AuditService
	Session   *session.Service
	Chat      *chat.Service

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	ChatHandler    *handlers.ChatHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
	}

	if err := deps.initAuditStore(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	if err := deps.initSessionStore(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	kb, err := NewKnowledge(cfg, logger, deps.Metrics)
	if err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize knowledge base: %w", err)
	}
	deps.Knowledge = kb
	loaded := kb.Service.Load(ctx)
	logger.Info("knowledge base loaded",
		zap.String("store", cfg.Knowledge.Store),
		zap.Int("entries", loaded))

	if err := deps.initProviders(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initAuditStore connects the audit database, or falls back to memory
func (d *Dependencies) initAuditStore(ctx context.Context, cfg *config.Config) error {
	if cfg.AuditDatabase == nil {
		d.Logger.Warn("no audit database configured, audit records are kept in memory")
		d.ChatRecords = memory.NewChatRecordRepository()
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.AuditDatabase, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory

	if err := factory.GetDB().PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := factory.InitAuditSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.ChatRecords = factory.ChatRecords()
	d.Logger.Info("audit database connection established",
		zap.String("connection", cfg.AuditDatabase.LogString()))
	return nil
}

// initSessionStore selects the session consistency policy
func (d *Dependencies) initSessionStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.Redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		d.Sessions = redisrepo.NewSessionRepository(client, redisrepo.Options{
			Prefix:     cfg.Redis.Prefix,
			MaxRetries: cfg.Session.MaxRetries,
		}, d.Logger, d.Metrics)
		d.Logger.Info("session store: redis", zap.String("addr", cfg.Redis.Addr))

	case config.SessionStoreMemory:
		d.Sessions = memory.NewSessionRepository()
		d.Logger.Info("session store: memory")

	default:
		return fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
	return nil
}

// initProviders registers the configured generation backend
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	provider, err := NewGenerationProvider(cfg.Generation)
	if err != nil {
		return err
	}
	if err := registry.RegisterProvider(provider); err != nil {
		return err
	}

	if cfg.Generation.APIKey == "" {
		d.Logger.Warn("no generation API key configured, misses will get the degraded reply",
			zap.String("provider", provider.Name()))
	}

	d.Providers = registry
	d.Logger.Info("generation provider registered", zap.String("provider", provider.Name()))
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Audit = audit.NewAuditService(d.ChatRecords, d.Logger, d.Metrics, audit.Config{
		QueueSize:   cfg.Audit.QueueSize,
		WorkerCount: cfg.Audit.Workers,
	})
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	d.Session = session.NewService(d.Sessions, d.Logger)

	generator, err := d.Providers.GetProvider(cfg.Generation.Provider)
	if err != nil {
		return err
	}

	d.Chat = chat.NewService(
		d.Knowledge.Service.Index(),
		d.Knowledge.Service,
		d.Session,
		d.Audit,
		generator,
		chat.Config{
			Model:       GenerationModel(cfg.Generation),
			MaxTokens:   cfg.Generation.MaxTokens,
			Temperature: cfg.Generation.Temperature,
			TopP:        cfg.Generation.TopP,
			Timeout:     cfg.Generation.Timeout,
		},
		d.Logger,
		d.Metrics,
	)
	return nil
}

func (d *Dependencies) initHTTP(cfg *config.Config) {
	validator := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, cfg.Auth.CookieName, d.Logger)

	d.ChatHandler = handlers.NewChatHandler(d.Chat, d.Session, handlers.CookieConfig{
		Name:   cfg.Session.CookieName,
		TTL:    cfg.Session.CookieTTL,
		Secure: cfg.IsProduction(),
	}, d.Logger)

	var db *postgres.DB
	if d.RepoFactory != nil {
		db = d.RepoFactory.GetDB()
	}
	d.HealthHandler = newHealthHandler(db, d.Logger)
	if d.Redis != nil {
		d.HealthHandler.WithCheck("redis", func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		})
	}
}

func newHealthHandler(db *postgres.DB, logger *zap.Logger) *handlers.HealthHandler {
	if db == nil {
		return handlers.NewHealthHandler(nil, logger)
	}
	return handlers.NewHealthHandler(db.DB, logger)
}

// Close gracefully shuts down all dependencies. Pending audit records are
// flushed before the stores close.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		timeout := d.Config.Audit.StopTimeout
		if timeout <= 0 {
			timeout = defaultAuditStopTimeout
		}
		if err := d.Audit.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.Audit = nil
	}

	if d.Knowledge != nil {
		if err := d.Knowledge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close knowledge store: %w", err))
		}
		d.Knowledge = nil
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}

func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed initialization", zap.Error(err))
	}
}
