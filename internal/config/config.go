package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by SPACE_BACKEND.
const (
	BackendMemory  = "memory"
	BackendSurreal = "surreal"
)

// Provider exposes configuration values to components that should not depend
// on the concrete Config struct.
type Provider interface {
	GetSpaceBackend() string
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetHTTPAddr() string
	GetCreateTxnTimeout() time.Duration
	GetLookupTimeout() time.Duration
	GetBreadcrumbLease() time.Duration
	GetNotifyLease() time.Duration
	GetPollInterval() time.Duration
	GetTracingEnabled() bool
	GetTracingServiceName() string
	GetZipkinURL() string
}

// Config holds all configuration for the application.
type Config struct {
	SpaceBackend string

	DBUrl  string
	DBNs   string
	DBDb   string
	DBUser string
	DBPass string

	HTTPAddr string

	CreateTxnTimeout time.Duration
	LookupTimeout    time.Duration
	BreadcrumbLease  time.Duration
	NotifyLease      time.Duration
	PollInterval     time.Duration

	TracingEnabled     bool
	TracingServiceName string
	ZipkinURL          string
}

var _ Provider = (*Config)(nil)

// Default returns a Config populated with the built-in defaults and the
// in-memory space backend.
func Default() *Config {
	return &Config{
		SpaceBackend:     BackendMemory,
		HTTPAddr:         ":8080",
		CreateTxnTimeout: 3 * time.Second,
		LookupTimeout:    time.Second,
		BreadcrumbLease:  time.Second,
		NotifyLease:      10 * time.Minute,
		PollInterval:     50 * time.Millisecond,

		TracingServiceName: "topicspace",
		ZipkinURL:          "http://localhost:9411/api/v2/spans",
	}
}

// New loads configuration from a .env file (if present) and environment variables.
// It exits the process when the configuration is unusable.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load reads configuration from the environment without touching .env files.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("SPACE_BACKEND"); v != "" {
		cfg.SpaceBackend = strings.ToLower(v)
	}
	cfg.DBUrl = os.Getenv("SURREAL_URL")
	cfg.DBUser = os.Getenv("SURREAL_USER")
	cfg.DBPass = os.Getenv("SURREAL_PASS")
	cfg.DBNs = os.Getenv("SURREAL_NS")
	cfg.DBDb = os.Getenv("SURREAL_DB")
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v := os.Getenv("PUBSUB_TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PUBSUB_TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = enabled
	}
	if v := os.Getenv("PUBSUB_TRACING_SERVICE_NAME"); v != "" {
		cfg.TracingServiceName = v
	}
	if v := os.Getenv("PUBSUB_TRACING_ZIPKIN_URL"); v != "" {
		cfg.ZipkinURL = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"CREATE_TXN_TIMEOUT", &cfg.CreateTxnTimeout},
		{"LOOKUP_TIMEOUT", &cfg.LookupTimeout},
		{"BREADCRUMB_LEASE", &cfg.BreadcrumbLease},
		{"NOTIFY_LEASE", &cfg.NotifyLease},
		{"POLL_INTERVAL", &cfg.PollInterval},
	}
	for _, d := range durations {
		raw := os.Getenv(d.env)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.env, raw, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration, got %s", d.env, raw)
		}
		*d.dst = parsed
	}

	switch cfg.SpaceBackend {
	case BackendMemory:
	case BackendSurreal:
		if cfg.DBUrl == "" || cfg.DBNs == "" || cfg.DBDb == "" {
			return nil, fmt.Errorf("required environment variables SURREAL_URL, SURREAL_NS, or SURREAL_DB are not set")
		}
	default:
		return nil, fmt.Errorf("unknown SPACE_BACKEND %q (want %s or %s)", cfg.SpaceBackend, BackendMemory, BackendSurreal)
	}

	return cfg, nil
}

func (c *Config) GetSpaceBackend() string            { return c.SpaceBackend }
func (c *Config) GetDBURL() string                   { return c.DBUrl }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetHTTPAddr() string                { return c.HTTPAddr }
func (c *Config) GetCreateTxnTimeout() time.Duration { return c.CreateTxnTimeout }
func (c *Config) GetLookupTimeout() time.Duration    { return c.LookupTimeout }
func (c *Config) GetBreadcrumbLease() time.Duration  { return c.BreadcrumbLease }
func (c *Config) GetNotifyLease() time.Duration      { return c.NotifyLease }
func (c *Config) GetPollInterval() time.Duration     { return c.PollInterval }
func (c *Config) GetTracingEnabled() bool            { return c.TracingEnabled }
func (c *Config) GetTracingServiceName() string      { return c.TracingServiceName }
func (c *Config) GetZipkinURL() string               { return c.ZipkinURL }
