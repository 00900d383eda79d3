// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FluentConfig controls the optional Fluent Bit log sink.
type FluentConfig struct {
	Enabled bool
	Host    string
	Port    int
	Level   string
}

// AMQPConfig controls the optional event publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AcquisitionConfig holds coordinator and source settings.
type AcquisitionConfig struct {
	Sources           []string
	ZapBaseURL        string
	VivaRealBaseURL   string
	Timeout           time.Duration
	FastSourceTimeout time.Duration
	CacheTTL          time.Duration
	FastCacheTTL      time.Duration
	HostRate          float64 // requests per second per host, 0 disables
}

// Config is the full service configuration.
type Config struct {
	AppName         string
	HTTPAddr        string
	PostgresDSN     string
	ClickhouseDSN   string
	UseMemory       bool
	LogLevel        string
	LogFormat       string
	RateLimitConfig string
	// TrustedProxies lists the addresses or CIDRs whose forwarding
	// headers name the client.
	TrustedProxies  []string
	ShutdownTimeout time.Duration
	Fluent          FluentConfig
	AMQP            AMQPConfig
	Acquisition     AcquisitionConfig
}

// Load reads an optional .env file and then the environment. A missing
// .env file is not an error.
func Load(envPath ...string) (*Config, error) {
	var err error
	if len(envPath) > 0 {
		err = godotenv.Load(envPath...)
	} else {
		err = godotenv.Load()
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		AppName:         getString("APP_NAME", "property-acquisition"),
		HTTPAddr:        getString("HTTP_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN:   os.Getenv("CLICKHOUSE_DSN"),
		UseMemory:       getBool("USE_MEMORY", false),
		LogLevel:        getString("LOG_LEVEL", "info"),
		LogFormat:       getString("LOG_FORMAT", "text"),
		RateLimitConfig: os.Getenv("RATE_LIMIT_CONFIG"),
		TrustedProxies:  getList("TRUSTED_PROXIES", nil),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Fluent: FluentConfig{
			Enabled: getBool("FLUENT_ENABLED", false),
			Host:    os.Getenv("FLUENT_HOST"),
			Port:    getInt("FLUENT_PORT", 24224),
			Level:   getString("FLUENT_LOG_LEVEL", "info"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getString("AMQP_EXCHANGE", "properties"),
		},
		Acquisition: AcquisitionConfig{
			Sources:           getList("SOURCES", []string{"zap", "vivareal"}),
			ZapBaseURL:        os.Getenv("ZAP_BASE_URL"),
			VivaRealBaseURL:   os.Getenv("VIVAREAL_BASE_URL"),
			Timeout:           getDuration("ACQUIRE_TIMEOUT", 120*time.Second),
			FastSourceTimeout: getDuration("FAST_SOURCE_TIMEOUT", 3*time.Second),
			CacheTTL:          getDuration("CACHE_TTL", 5*time.Minute),
			FastCacheTTL:      getDuration("FAST_CACHE_TTL", time.Minute),
			HostRate:          getFloat("HOST_RATE", 0),
		},
	}

	if cfg.Fluent.Enabled && cfg.Fluent.Host == "" {
		log.Println("WARNING: FLUENT_ENABLED is true but FLUENT_HOST is not set, disabling Fluent Bit")
		cfg.Fluent.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		errs = append(errs, errors.New("POSTGRES_DSN and CLICKHOUSE_DSN are required unless USE_MEMORY is set"))
	}
	if len(c.Acquisition.Sources) == 0 {
		errs = append(errs, errors.New("SOURCES must name at least one source"))
	}
	if c.Acquisition.Timeout <= 0 {
		errs = append(errs, errors.New("ACQUIRE_TIMEOUT must be positive"))
	}
	if c.Acquisition.FastSourceTimeout <= 0 || c.Acquisition.FastSourceTimeout >= c.Acquisition.Timeout {
		errs = append(errs, errors.New("FAST_SOURCE_TIMEOUT must be positive and shorter than ACQUIRE_TIMEOUT"))
	}
	switch c.LogFormat {
	case "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text, json or color", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getString(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("WARNING: %s=%q is not an int, using %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getFloat(key string, defaultValue float64) float64 {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a number, using %g", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a bool, using %t", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a duration, using %s", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getList splits a comma-separated value, dropping empty items.
func getList(key string, defaultValue []string) []string {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
