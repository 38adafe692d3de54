package main

import (
	"testing"
	"time"
)

func TestRedisOptionsURL(t *testing.T) {
	opts := redisOptions("redis://:secret@cache:6380/2")
	if opts.Addr != "cache:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestRedisOptionsAzureString(t *testing.T) {
	opts := redisOptions("board.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if opts.Addr != "board.redis.cache.windows.net:6380" {
		t.Fatalf("addr = %q", opts.Addr)
	}
	if opts.Password != "abc=" {
		t.Fatalf("password = %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls for ssl=True")
	}
}

func TestRedisOptionsPlainHost(t *testing.T) {
	opts := redisOptions("localhost:6379")
	if opts.Addr != "localhost:6379" || opts.Password != "" || opts.TLSConfig != nil {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "AUTH_MODE", "BOARD_API_PORT", "DISPATCH_WORKERS", "BOARD_CACHE_TTL", "BOARD_EVENTS_QUEUE"} {
		t.Setenv(k, "")
	}
	cfg := loadConfig()
	if cfg.StoreBackend != "memory" || cfg.AuthMode != "guest" || cfg.Port != "8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Dispatch.Workers != 8 || cfg.BoardCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected dispatch or cache defaults %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Tables")
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	t.Setenv("DISPATCH_WORKERS", "3")
	t.Setenv("DISPATCH_HANDOFF_TIMEOUT", "5ms")
	cfg := loadConfig()
	if cfg.StoreBackend != "tables" || cfg.AuthMode != "jwt" || !cfg.TestMode {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Dispatch.Workers != 3 || cfg.Dispatch.HandoffTimeout != 5*time.Millisecond {
		t.Fatalf("unexpected dispatch config %+v", cfg.Dispatch)
	}
}
