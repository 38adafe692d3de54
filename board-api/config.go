package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type config struct {
	Debug        bool
	Port         string
	OTLPEndpoint string

	StoreBackend    string
	StorageConnStr  string
	BoardsTable     string
	BoardEventQueue string

	RedisConnStr   string
	BoardCacheTTL  time.Duration
	UpdatesChannel string
	IdempotencyTTL time.Duration

	Dispatch   dispatchConfig
	ConnBuffer int

	AuthMode      string
	Auth0Domain   string
	Auth0Audience string
	TestMode      bool
	TestJWTSecret string
	JWKSCacheTTL  time.Duration
}

type dispatchConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	PublishTimeout time.Duration
}

func loadConfig() config {
	cfg := config{
		Debug:           envBool("DEBUG", false),
		Port:            envString("BOARD_API_PORT", "8080"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StoreBackend:    strings.ToLower(envString("STORE_BACKEND", "memory")),
		StorageConnStr:  os.Getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:     envString("BOARDS_TABLE", "boards"),
		BoardEventQueue: os.Getenv("BOARD_EVENTS_QUEUE"),
		RedisConnStr:    os.Getenv("REDIS_CONNECTION_STRING"),
		BoardCacheTTL:   envDur("BOARD_CACHE_TTL", 5*time.Minute),
		UpdatesChannel:  envString("UPDATES_CHANNEL", "board-updates"),
		IdempotencyTTL:  envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		Dispatch: dispatchConfig{
			Workers:        envInt("DISPATCH_WORKERS", 8),
			Buffer:         envInt("DISPATCH_BUFFER", 1024),
			HandoffTimeout: envDur("DISPATCH_HANDOFF_TIMEOUT", 50*time.Millisecond),
			PublishTimeout: envDur("DISPATCH_PUBLISH_TIMEOUT", 10*time.Second),
		},
		ConnBuffer:    envInt("CONN_BUFFER", 64),
		AuthMode:      strings.ToLower(envString("AUTH_MODE", "guest")),
		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
		TestMode:      os.Getenv("AUTH0_TEST_MODE") == "1",
		TestJWTSecret: os.Getenv("TEST_JWT_SECRET"),
		JWKSCacheTTL:  envDur("JWKS_CACHE_TTL", 15*time.Minute),
	}

	switch cfg.StoreBackend {
	case "memory":
	case "tables":
		if cfg.StorageConnStr == "" {
			log.Fatal("missing storage config")
		}
	default:
		log.Fatalf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.BoardEventQueue != "" && cfg.StorageConnStr == "" {
		log.Fatal("BOARD_EVENTS_QUEUE needs STORAGE_CONNECTION_STRING")
	}
	switch cfg.AuthMode {
	case "guest":
	case "jwt":
		if cfg.TestMode {
			if cfg.TestJWTSecret == "" {
				log.Fatal("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
			}
		} else if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			log.Fatal("missing Auth0 config")
		}
	default:
		log.Fatalf("invalid AUTH_MODE %q", cfg.AuthMode)
	}
	return cfg
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: must be a positive integer", key)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return b
}

// redisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(v, "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
