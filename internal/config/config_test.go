package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key")
	for _, v := range []string{"SERVER_ADDR", "SERVER_PORT", "DB_HOST", "DB_PORT", "DB_SSLMODE", "REDIS_ADDR", "LOCK_MAX_ATTEMPTS", "LOCK_BLOCK_DURATION", "REFRESH_TOKEN_TTL", "EPHEMERAL_SESSION_TTL"} {
		t.Setenv(v, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != "0.0.0.0" {
		t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, "0.0.0.0")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, want %q", cfg.DBSSLMode, "disable")
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want %v", cfg.AccessTokenTTL, 15*time.Minute)
	}
	if cfg.Lock.MaxAttempts != 5 {
		t.Errorf("Lock.MaxAttempts = %d, want 5", cfg.Lock.MaxAttempts)
	}
	if cfg.Lock.BlockDuration != time.Minute {
		t.Errorf("Lock.BlockDuration = %v, want %v", cfg.Lock.BlockDuration, time.Minute)
	}
	if cfg.Storage.EphemeralTTL != 12*time.Hour {
		t.Errorf("Storage.EphemeralTTL = %v, want %v", cfg.Storage.EphemeralTTL, 12*time.Hour)
	}
	if cfg.Storage.RememberedTTL != 30*24*time.Hour {
		t.Errorf("Storage.RememberedTTL = %v, want %v", cfg.Storage.RememberedTTL, 30*24*time.Hour)
	}
	if cfg.HasRedis() {
		t.Error("HasRedis() = true with no REDIS_ADDR")
	}
}

func TestLoad_RequiredJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Error("Load should fail when JWT_SECRET is not set")
	}
}

func TestLoad_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LOCK_MAX_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Error("Load should fail when LOCK_MAX_ATTEMPTS is 0")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "custom-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOCK_BLOCK_DURATION", "2m")
	t.Setenv("EPHEMERAL_SESSION_TTL", "1h")
	t.Setenv("STORAGE_EPHEMERAL_TTL", "")
	t.Setenv("GOOGLE_MOBILE_CLIENT_IDS", "ios.apps, android.apps ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 9090)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want %v", cfg.AccessTokenTTL, 30*time.Minute)
	}
	if !cfg.HasRedis() || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis:6379")
	}
	if cfg.Lock.BlockDuration != 2*time.Minute {
		t.Errorf("Lock.BlockDuration = %v, want %v", cfg.Lock.BlockDuration, 2*time.Minute)
	}
	if cfg.Storage.EphemeralTTL != time.Hour {
		t.Errorf("Storage.EphemeralTTL = %v, want session TTL %v", cfg.Storage.EphemeralTTL, time.Hour)
	}
	if want := []string{"ios.apps", "android.apps"}; !reflect.DeepEqual(cfg.GoogleMobileClientIDs, want) {
		t.Errorf("GoogleMobileClientIDs = %v, want %v", cfg.GoogleMobileClientIDs, want)
	}
}

func TestHasGoogleOAuth(t *testing.T) {
	tests := []struct {
		name         string
		clientID     string
		clientSecret string
		expected     bool
	}{
		{name: "both set", clientID: "client-id", clientSecret: "client-secret", expected: true},
		{name: "only client id", clientID: "client-id"},
		{name: "only client secret", clientSecret: "client-secret"},
		{name: "neither set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				GoogleClientID:     tt.clientID,
				GoogleClientSecret: tt.clientSecret,
			}
			if cfg.HasGoogleOAuth() != tt.expected {
				t.Errorf("HasGoogleOAuth() = %v, want %v", cfg.HasGoogleOAuth(), tt.expected)
			}
		})
	}
}

func TestGetEnv_InvalidValues(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	t.Setenv("TEST_DURATION", "invalid")
	t.Setenv("TEST_BOOL", "maybe")

	if got := getEnvInt("TEST_INT", 42); got != 42 {
		t.Errorf("getEnvInt should return default for invalid value, got %d", got)
	}
	if got := getEnvDuration("TEST_DURATION", 5*time.Minute); got != 5*time.Minute {
		t.Errorf("getEnvDuration should return default for invalid value, got %v", got)
	}
	if got := getEnvBool("TEST_BOOL", true); !got {
		t.Errorf("getEnvBool should return default for invalid value, got %v", got)
	}
}
