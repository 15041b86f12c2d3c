package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/heritage-console/internal/api/http"
	"github.com/spec-kit/heritage-console/internal/apiclient"
	"github.com/spec-kit/heritage-console/internal/config"
	"github.com/spec-kit/heritage-console/internal/console"
	"github.com/spec-kit/heritage-console/internal/observability"
	"github.com/spec-kit/heritage-console/internal/persistence"
	"github.com/spec-kit/heritage-console/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, "console")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	durable, closeDurable := durableStorage(ctx, cfg, logger)
	defer closeDurable()
	store := session.NewTokenStore(durable, session.NewMemoryStorage())

	client := apiclient.New(cfg.Console.APIBaseURL, cfg.Console.HTTPTimeout(), logger)
	sess := session.New(session.Deps{Store: store, Fetcher: client, Logger: logger})
	defer sess.Close()

	coord := session.NewCoordinator(sess, client, session.CoordinatorConfig{
		Lead:    time.Duration(cfg.Session.RefreshLeadSeconds) * time.Second,
		Timeout: time.Duration(cfg.Session.RefreshTimeoutSeconds) * time.Second,
	}, logger)
	defer coord.Stop()
	client.Authorize(sess, coord)

	svc := console.NewAuthService(sess, store, client, coord, console.Paths{
		SignIn:    cfg.Console.SignInPath,
		AdminHome: cfg.Console.AdminHome,
		UserHome:  cfg.Console.UserHome,
	}, logger)

	go logTransitions(sess, logger)
	svc.Start(ctx)

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{AppName: "heritage-console"})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.Console.HTTPTimeout())
	console.RegisterRoutes(app, console.RouteConfig{
		Handler: console.NewHandler(svc, cfg.App.Version),
		Guards:  console.NewGuards(svc, logger),
	})

	go func() {
		if err := app.Listen(cfg.Console.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	logger.Info("request totals", zap.Any("metrics", metrics.Snapshot()))
}

// durableStorage picks the remember-me tier. Redis keeps sessions across
// restarts; memory is for local runs without a Redis server.
func durableStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Storage, func()) {
	if cfg.Session.DurableBackend == config.DurableBackendMemory {
		logger.Warn("durable session tier is in memory; remembered sessions end with the process")
		return session.NewMemoryStorage(), func() {}
	}
	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	ttl := time.Duration(cfg.Session.DurableTTLHours) * time.Hour
	return session.NewRedisStorage(redis.Client, cfg.Session.Namespace, ttl), redis.Close
}

func logTransitions(sess *session.Session, logger *zap.Logger) {
	updates, cancel := sess.Subscribe()
	defer cancel()
	authenticated := false
	for snap := range updates {
		now := snap.HasToken()
		if now == authenticated {
			continue
		}
		authenticated = now
		fields := []zap.Field{zap.Bool("authenticated", now)}
		if snap.User != nil {
			fields = append(fields, zap.String("email", snap.User.Email), zap.String("role", string(snap.User.Role)))
		}
		logger.Info("session changed", fields...)
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
