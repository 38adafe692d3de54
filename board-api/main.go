package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"taskboard/api"
	"taskboard/domain"
	"taskboard/gateway"
	"taskboard/hub"
	"taskboard/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := loadConfig()
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	otel.SetTracerProvider(tp)

	var rc *redis.Client
	if cfg.RedisConnStr != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConnStr))
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
	}

	store, err := newStore(cfg, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rooms := hub.New(logger, hub.WithBuffer(cfg.ConnBuffer), hub.WithMetrics(hub.NewMetrics(reg)))

	// Local members always get events straight from the hub; the relay only
	// carries them to other instances.
	publishers := hub.Publishers{rooms}
	if rc != nil {
		relay := hub.NewRelay(rc, cfg.UpdatesChannel, domain.MakeID(), rooms, logger)
		go relay.Run(ctx)
		publishers = append(publishers, relay)
	}
	if cfg.BoardEventQueue != "" {
		q, err := storage.NewEventQueue(cfg.StorageConnStr, cfg.BoardEventQueue)
		if err != nil {
			log.Fatalf("event queue: %v", err)
		}
		publishers = append(publishers, q)
	}
	dispatcher := hub.NewDispatcher(publishers, logger, hub.DispatcherConfig{
		Workers:        cfg.Dispatch.Workers,
		Buffer:         cfg.Dispatch.Buffer,
		HandoffTimeout: cfg.Dispatch.HandoffTimeout,
		PublishTimeout: cfg.Dispatch.PublishTimeout,
	})

	boards := gateway.New(store, dispatcher, logger)

	auth, err := newAuthenticator(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.IdempotencyTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:       func(c echo.Context) bool { return c.Path() == "/healthz" || c.Path() == "/metrics" },
		LogMethod:     true,
		LogURI:        true,
		LogStatus:     true,
		LogLatency:    true,
		LogError:      true,
		LogValuesFunc: requestLogger(logger),
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			api.HeaderUserID, "Idempotency-Key",
		},
		ExposeHeaders: []string{api.HeaderUserID},
	}))
	api.RegisterMetrics(e, reg)
	api.Register(e, boards, rooms, auth, deduper, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithFields(log.Fields{
		"port":    cfg.Port,
		"store":   cfg.StoreBackend,
		"auth":    cfg.AuthMode,
		"relay":   rc != nil,
		"queue":   cfg.BoardEventQueue != "",
		"workers": cfg.Dispatch.Workers,
	}).Info("board api started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	dispatcher.Close()
	rooms.Close()
	if rc != nil {
		_ = rc.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("tracer shutdown")
	}
}

func requestLogger(logger *log.Logger) func(echo.Context, middleware.RequestLoggerValues) error {
	return func(_ echo.Context, v middleware.RequestLoggerValues) error {
		entry := logger.WithFields(log.Fields{
			"method":     v.Method,
			"uri":        v.URI,
			"status":     v.Status,
			"latency_ms": v.Latency.Milliseconds(),
		})
		if v.Error != nil {
			entry.WithError(v.Error).Warn("request failed")
			return nil
		}
		entry.Debug("request")
		return nil
	}
}

func newStore(cfg config, rc *redis.Client) (gateway.Store, error) {
	if cfg.StoreBackend == "memory" {
		if rc != nil {
			return storage.NewCache(storage.NewMemory(), rc, cfg.BoardCacheTTL), nil
		}
		return storage.NewMemory(), nil
	}
	tables, err := storage.NewTables(cfg.StorageConnStr, cfg.BoardsTable)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		return storage.NewCache(tables, rc, cfg.BoardCacheTTL), nil
	}
	return tables, nil
}

func newAuthenticator(cfg config) (api.Authenticator, error) {
	if cfg.AuthMode == "guest" {
		return api.GuestAuth{}, nil
	}
	if cfg.TestMode {
		return api.NewAuth(nil, api.AuthConfig{
			Audience:    cfg.Auth0Audience,
			TestSecret:  []byte(cfg.TestJWTSecret),
			KeyCacheTTL: cfg.JWKSCacheTTL,
		}), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, api.AuthConfig{
		Audience:    cfg.Auth0Audience,
		Issuer:      "https://" + cfg.Auth0Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}), nil
}
