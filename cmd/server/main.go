package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	oauthapi "go.pilab.hu/oauthkit/api/echo"
	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/config"
	"go.pilab.hu/oauthkit/domain"
	"go.pilab.hu/oauthkit/flow"
	"go.pilab.hu/oauthkit/internal/metrics"
	"go.pilab.hu/oauthkit/log"
	"go.pilab.hu/oauthkit/mongodb"
	"go.pilab.hu/oauthkit/redisaudit"
	"go.pilab.hu/oauthkit/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	logger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	logger.Info(ctx, "starting oauthkit server", map[string]interface{}{
		"http_port":  cfg.HTTPPort,
		"mongo_db":   cfg.MongoDBName,
		"audit_sink": cfg.AuditSink,
	})

	mongoClient, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Error(ctx, "failed to connect to MongoDB", err)
		os.Exit(1)
	}
	defer mongodb.Disconnect(ctx, mongoClient)

	db := mongoClient.Database(cfg.MongoDBName)
	repo := mongodb.NewOAuthRepository(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Error(ctx, "failed to create indexes", err)
		os.Exit(1)
	}
	clients := mongodb.NewClientStore(db)

	var sink audit.Sink
	switch cfg.AuditSink {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error(ctx, "failed to connect to Redis", err)
			os.Exit(1)
		}
		sink = redisaudit.New(rdb, "")
	case "log":
		sink = audit.NewLogSink(nil)
	default:
		// The trail lives in its own database so it survives incidents in
		// the operational store.
		sink = mongodb.NewAuditSink(mongoClient.Database(cfg.AuditDBName))
	}

	metrics.Init(prometheus.DefaultRegisterer)

	clock := domain.SystemClock{}
	ids := domain.UUIDGenerator{}
	signer := token.NewHMACSigner([]byte(cfg.JWTSecretKey))
	issuer := token.NewIssuer(token.IssuerOptions{
		Issuer:         cfg.Issuer,
		AccessTokenTTL: time.Duration(cfg.AccessTokenTTLMin) * time.Minute,
	}, signer, clock, ids)
	revoker := token.NewRevocationService(repo, sink, clock, logger)

	deps := flow.Deps{
		Repo:    repo,
		Clients: clients,
		// Identity stays nil here: the password grant is gated off by
		// default, and enabling it requires wiring an IdentityVerifier
		// against the deployment's user store.
		Issuer:  issuer,
		Revoker: revoker,
		Sink:    sink,
		Clock:   clock,
		IDs:     ids,
		Logger:  logger,
		Options: flow.Options{
			AccessTokenQuota:   cfg.AccessTokenQuota,
			RefreshTokenQuota:  cfg.RefreshTokenQuota,
			AllowPasswordGrant: cfg.AllowPasswordGrant,
			AuthCodeTTL:        time.Duration(cfg.AuthCodeTTLMin) * time.Minute,
			DeviceCodeTTL:      time.Duration(cfg.DeviceCodeTTLMin) * time.Minute,
			DevicePollInterval: cfg.DevicePollInterval,
			VerificationURI:    cfg.VerificationURI,
		},
	}

	engine := flow.NewEngine(deps)
	authz := flow.NewAuthorizationService(deps)
	devices := flow.NewDeviceService(deps)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	oauthAPI := oauthapi.NewOAuth2API(engine, authz, devices, revoker, ids)
	oauthAPI.RegisterRoutes(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context(), mongoClient); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	go func() {
		logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "HTTP server stopped", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	logger.Info(shutdownCtx, "server stopped")
}
