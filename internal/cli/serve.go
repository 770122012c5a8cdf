package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/auth"
	"github.com/example/neuroscan/internal/config"
	"github.com/example/neuroscan/internal/handlers"
	"github.com/example/neuroscan/internal/healthcheck"
	"github.com/example/neuroscan/internal/predictor"
	"github.com/example/neuroscan/internal/repository"
	"github.com/example/neuroscan/internal/server"
	"github.com/example/neuroscan/internal/session"
	"github.com/example/neuroscan/internal/usecase"
	"github.com/example/neuroscan/internal/workflow"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var repo usecase.AnalysisRepository
	if cfg.Database.Driver != "none" && cfg.Database.Driver != "" {
		dbCtx, dbCancel := context.WithTimeout(ctx, 15*time.Second)
		db, err := repository.Open(dbCtx, cfg.Database.Driver, cfg.Database.DSN, logger)
		dbCancel()
		if err != nil {
			return err
		}
		analysisRepo := repository.NewAnalysisRepository(db, logger)
		if err := analysisRepo.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		repo = analysisRepo
	}

	var cache usecase.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		cache = usecase.NewRedisCache(client)
	}

	client := predictor.NewHTTPClient(cfg.Predictor.URL, cfg.Predictor.Timeout, logger)
	uc := usecase.NewAnalysisUseCase(repo, cache, client, cfg.Redis.TTL, logger)

	sessions := session.NewStore(cfg.Session.TTL, func(sessionID string, notifier workflow.Notifier) *workflow.Workflow {
		return workflow.New(uc.ForSession(sessionID), notifier, logger.With(zap.String("session_id", sessionID)))
	}, logger)
	sessions.SetLimit(cfg.Session.MaxSessions)
	go sessions.Run(ctx, time.Minute)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handlers.RequestLogger(logger), gin.Recovery())
	router.MaxMultipartMemory = cfg.HTTP.MaxUploadBytes

	opts := handlers.Options{
		CookieName:     cfg.Session.CookieName,
		SessionTTL:     cfg.Session.TTL,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	}
	if cfg.Auth.JWTSecret != "" {
		opts.AuthMiddleware = auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	} else {
		logger.Warn("JWT_SECRET not set, analysis log API is unauthenticated")
	}
	handlers.RegisterRoutes(router, handlers.New(sessions, uc, opts, logger))

	var health *healthcheck.Server
	if cfg.HTTP.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTP.HealthAddr)
		if err != nil {
			return fmt.Errorf("listen health %s: %w", cfg.HTTP.HealthAddr, err)
		}
		health = healthcheck.New(logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("health service stopped", zap.Error(err))
			}
		}()
		health.SetServing(true)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("NeuroImage Insight listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("predictor", client.Endpoint()),
	)
	return server.Run(httpServer, logger, server.Options{
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		OnShutdown: func(ctx context.Context) {
			cancel()
			if health != nil {
				health.Stop(ctx)
			}
		},
	})
}
