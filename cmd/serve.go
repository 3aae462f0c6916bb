package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/cartpulse/cartpulse/internal/cache"
	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/consumer"
	"github.com/cartpulse/cartpulse/internal/domain"
	cartgrpc "github.com/cartpulse/cartpulse/internal/grpc"
	"github.com/cartpulse/cartpulse/internal/handler"
	"github.com/cartpulse/cartpulse/internal/hub"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/notify"
	"github.com/cartpulse/cartpulse/internal/pricewatch"
	"github.com/cartpulse/cartpulse/internal/repository"
	"github.com/cartpulse/cartpulse/internal/service"
	"github.com/cartpulse/cartpulse/internal/unread"
	"github.com/cartpulse/cartpulse/pkg/database"
	"github.com/cartpulse/cartpulse/pkg/jwt"
	"github.com/cartpulse/cartpulse/pkg/log"
	"github.com/cartpulse/cartpulse/pkg/middleware"
	"github.com/cartpulse/cartpulse/pkg/pubsub"
	"github.com/cartpulse/cartpulse/pkg/storage"
)

const tokenTTL = 24 * time.Hour

func runServer(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "cartpulse"})
	logger := log.L()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog read models always come from the relational database.
	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db, logger)
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	msgRepo, err := newMessageRepository(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer msgRepo.Close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}

	var msgCache cache.MessageCache
	if cfg.Cache.Enabled {
		msgCache = cache.NewRedisMessageCache(rdb, cfg.Cache.Prefix)
		logger.Info().Dur("ttl", cfg.Cache.TTL).Msg("history page cache enabled")
	}
	store := service.NewMessageStore(msgRepo, msgCache, cfg.Cache.TTL)

	var unreadStore unread.Store
	switch cfg.Unread.Driver {
	case "redis":
		unreadStore = unread.NewRedisStore(rdb, cfg.Unread.Prefix)
	case "memory", "":
		unreadStore = unread.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported unread driver: %s", cfg.Unread.Driver)
	}

	images, err := storage.New(ctx, cfg.Storage.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	tokens, err := newTokenManager(cfg, logger)
	if err != nil {
		return err
	}

	wsHub := hub.NewHub(cfg.WebSocket)
	tracker := unread.NewTracker(unreadStore, wsHub, cfg.Unread.ClearOnLogin)
	memberships := repository.NewGormMembershipRepository(db)
	catalog := repository.NewGormCatalogRepository(db)
	dispatcher := notify.NewDispatcher(wsHub, memberships, catalog, tracker, images, cfg.Storage.URLTTL)
	detector := pricewatch.NewDetector(catalog, dispatcher)
	chatSvc := service.NewChatService(wsHub, store, tracker, memberships, tokens)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), log.GinMiddleware(logger), metrics.GinMiddleware(), corsMiddleware(cfg.CORS))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if local, ok := images.(*storage.LocalStorage); ok {
		r.Static(local.URLPrefix(), local.BasePath())
	}

	handler.NewWSHandler(wsHub, chatSvc).RegisterRoutes(r)
	handler.NewHandler(wsHub, store, memberships, dispatcher, detector, tracker, middleware.NewAuthMiddleware(tokens)).RegisterRoutes(r)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.PubSub.Driver != "none" {
		ps, err := pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			return fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		defer ps.Close()

		priceConsumer := consumer.NewPriceConsumer(ps, dispatcher, detector)
		g.Go(func() error {
			return priceConsumer.Run(gctx)
		})
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("price consumer enabled")
	}

	if cfg.GRPC.Enabled {
		grpcServer := cartgrpc.NewServer(logger)
		if _, err := grpcServer.Start(fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)); err != nil {
			return err
		}
		defer grpcServer.Stop()
	}

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("address", server.Addr).Msg("cartpulse listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("cartpulse stopped with error")
		return err
	}
	logger.Info().Msg("cartpulse stopped")
	return nil
}

func newMessageRepository(ctx context.Context, cfg *config.Config, db *gorm.DB) (repository.MessageRepository, error) {
	switch cfg.Store.Driver {
	case "cassandra":
		repo, err := repository.NewCassandraMessageRepository(cfg.Cassandra)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case "gorm", "":
		if err := database.AutoMigrate(db, &domain.ChatMessage{}); err != nil {
			return nil, fmt.Errorf("failed to migrate chat messages: %w", err)
		}
		return repository.NewGormMessageRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newTokenManager verifies tokens with the shared identity secret. Without
// one, an ephemeral secret keeps the server usable but rejects every
// externally issued token.
func newTokenManager(cfg *config.Config, logger zerolog.Logger) (*jwt.Manager, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		logger.Warn().Msg("auth.jwt_secret not set; authentication will reject all tokens")
		secret = uuid.NewString()
	}
	return jwt.NewManager(secret, cfg.Auth.Issuer, tokenTTL)
}

func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowOrigins) == 0 || slices.Contains(cfg.AllowOrigins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowOrigins
	}
	return cors.New(c)
}
