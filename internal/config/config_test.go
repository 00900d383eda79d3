package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	unsetForTest(t, "HTTP_ADDR", "SOURCES", "CACHE_TTL", "FAST_CACHE_TTL", "FLUENT_ENABLED",
		"ACQUIRE_TIMEOUT", "FAST_SOURCE_TIMEOUT", "LOG_FORMAT", "TRUSTED_PROXIES")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if got := strings.Join(cfg.Acquisition.Sources, ","); got != "zap,vivareal" {
		t.Errorf("Sources = %q", got)
	}
	if cfg.Acquisition.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %s", cfg.Acquisition.CacheTTL)
	}
	if cfg.Acquisition.FastCacheTTL != time.Minute {
		t.Errorf("FastCacheTTL = %s", cfg.Acquisition.FastCacheTTL)
	}
	if cfg.Fluent.Enabled {
		t.Error("fluent should be disabled by default")
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want none", cfg.TrustedProxies)
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1,")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.TrustedProxies, ","); got != "10.0.0.0/8,192.0.2.1" {
		t.Errorf("TrustedProxies = %q", got)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "USE_MEMORY=true\nSOURCES=zap, stub ,\nACQUIRE_TIMEOUT=30s\nFLUENT_ENABLED=true\nLOG_FORMAT=json\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables already set.
	t.Setenv("LOG_FORMAT", "color")
	unsetForTest(t, "SOURCES", "ACQUIRE_TIMEOUT", "FLUENT_ENABLED", "FLUENT_HOST")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.Acquisition.Sources, ","); got != "zap,stub" {
		t.Errorf("Sources = %q", got)
	}
	if cfg.Acquisition.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s", cfg.Acquisition.Timeout)
	}
	if cfg.LogFormat != "color" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	// No FLUENT_HOST: disabled with a warning.
	if cfg.Fluent.Enabled {
		t.Error("fluent should be disabled without a host")
	}
}

// unsetForTest clears keys and restores them after the test, so values
// loaded from an env file do not leak.
func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("USE_MEMORY", "false")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("ACQUIRE_TIMEOUT", "2m")
	t.Setenv("FAST_SOURCE_TIMEOUT", "5m")
	t.Setenv("LOG_FORMAT", "text")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"POSTGRES_DSN", "FAST_SOURCE_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestGetHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "1")
	t.Setenv("X_DUR", "1500ms")

	if got := getInt("X_INT", 7); got != 7 {
		t.Errorf("getInt = %d", got)
	}
	if !getBool("X_BOOL", false) {
		t.Error("getBool = false")
	}
	if got := getDuration("X_DUR", 0); got != 1500*time.Millisecond {
		t.Errorf("getDuration = %s", got)
	}
	if got := getList("X_MISSING", []string{"a"}); len(got) != 1 {
		t.Errorf("getList = %v", got)
	}
}
