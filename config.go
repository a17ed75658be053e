package opsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ambiyansyah-risyal/opsclient/internal/objectstore"
	"github.com/ambiyansyah-risyal/opsclient/internal/postgrest"
	"github.com/ambiyansyah-risyal/opsclient/internal/sqlstore"
)

// Config is the file and environment form of the client options. Load it
// with LoadConfig and build a client with NewFromConfig.
type Config struct {
	BaseURL    string            `yaml:"baseURL" env:"OPSCLIENT_BASE_URL"`
	Timeout    time.Duration     `yaml:"timeout" env:"OPSCLIENT_TIMEOUT"`
	MaxRetries int               `yaml:"maxRetries" env:"OPSCLIENT_MAX_RETRIES"`
	BaseDelay  time.Duration     `yaml:"baseDelay" env:"OPSCLIENT_BASE_DELAY"`
	Headers    map[string]string `yaml:"headers"`
	Metrics    bool              `yaml:"metrics" env:"OPSCLIENT_METRICS"`
	Debug      bool              `yaml:"debug" env:"OPSCLIENT_DEBUG"`

	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Upload    UploadConfig    `yaml:"upload"`
	Data      DataConfig      `yaml:"data"`
	Storage   StorageConfig   `yaml:"storage"`
	Health    HealthConfig    `yaml:"health"`
	Activity  ActivityConfig  `yaml:"activity"`
	Ops       OpsConfig       `yaml:"ops"`
}

// LogConfig selects the logger backend.
type LogConfig struct {
	// Backend is "logrus" (default) or "zap".
	Backend string `yaml:"backend" env:"OPSCLIENT_LOG_BACKEND"`
	Level   string `yaml:"level" env:"OPSCLIENT_LOG_LEVEL"`
	// Format is "text" or "json"; zap always writes JSON.
	Format string `yaml:"format" env:"OPSCLIENT_LOG_FORMAT"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" env:"OPSCLIENT_CACHE_ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"OPSCLIENT_CACHE_TTL"`
	// MaxEntries bounds the in-process cache with LRU eviction. Zero is unbounded.
	MaxEntries int  `yaml:"maxEntries" env:"OPSCLIENT_CACHE_MAX_ENTRIES"`
	Coalesce   bool `yaml:"coalesce" env:"OPSCLIENT_CACHE_COALESCE"`
	// Redis moves the cache out of process when Addr is set.
	Redis RedisCacheConfig `yaml:"redis"`
}

type RateLimitConfig struct {
	// Limit zero disables client-side limiting.
	Limit  int           `yaml:"limit" env:"OPSCLIENT_RATE_LIMIT"`
	Window time.Duration `yaml:"window" env:"OPSCLIENT_RATE_WINDOW"`
	// Algorithm is "fixed" (default) or "token".
	Algorithm string                         `yaml:"algorithm" env:"OPSCLIENT_RATE_ALGORITHM"`
	Endpoints map[string]EndpointLimitConfig `yaml:"endpoints"`
}

type EndpointLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DataConfig selects the backend serving /rest/v1/ targets.
type DataConfig struct {
	// Driver is "postgrest", "postgres" or empty for none.
	Driver    string `yaml:"driver" env:"OPSCLIENT_DATA_DRIVER"`
	URL       string `yaml:"url" env:"OPSCLIENT_DATA_URL"`
	APIKey    string `yaml:"apiKey" env:"OPSCLIENT_DATA_API_KEY"`
	DSN       string `yaml:"dsn" env:"OPSCLIENT_DATA_DSN"`
	PingTable string `yaml:"pingTable" env:"OPSCLIENT_DATA_PING_TABLE"`
}

// StorageConfig selects the store serving /storage/v1/object/ targets.
type StorageConfig struct {
	// Driver is "supabase", "s3" or empty for none.
	Driver string `yaml:"driver" env:"OPSCLIENT_STORAGE_DRIVER"`
	URL    string `yaml:"url" env:"OPSCLIENT_STORAGE_URL"`
	APIKey string `yaml:"apiKey" env:"OPSCLIENT_STORAGE_API_KEY"`

	Region          string `yaml:"region" env:"OPSCLIENT_S3_REGION"`
	Endpoint        string `yaml:"endpoint" env:"OPSCLIENT_S3_ENDPOINT"`
	AccessKeyID     string `yaml:"accessKeyId" env:"OPSCLIENT_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secretAccessKey" env:"OPSCLIENT_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `yaml:"forcePathStyle" env:"OPSCLIENT_S3_FORCE_PATH_STYLE"`
	HealthBucket    string `yaml:"healthBucket" env:"OPSCLIENT_S3_HEALTH_BUCKET"`
}

type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"OPSCLIENT_HEALTH_TIMEOUT"`
	// ExternalServices is semicolon separated in the environment.
	ExternalServices []string `yaml:"externalServices" env:"OPSCLIENT_HEALTH_EXTERNAL_SERVICES"`
}

type ActivityConfig struct {
	// Sink is "log", "data", "both" or empty to disable recording.
	Sink     string `yaml:"sink" env:"OPSCLIENT_ACTIVITY_SINK"`
	Resource string `yaml:"resource" env:"OPSCLIENT_ACTIVITY_RESOURCE"`
	Buffer   int    `yaml:"buffer" env:"OPSCLIENT_ACTIVITY_BUFFER"`
}

// OpsConfig configures the operations server run by opsctl serve.
type OpsConfig struct {
	Addr string `yaml:"addr" env:"OPSCLIENT_OPS_ADDR"`
	// Maintenance is a cron spec for cache sweeps and limiter pruning.
	Maintenance string `yaml:"maintenance" env:"OPSCLIENT_OPS_MAINTENANCE"`
}

// DefaultConfig mirrors the defaults of New.
func DefaultConfig() Config {
	return Config{
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		Log: LogConfig{
			Backend: "logrus",
			Level:   "info",
			Format:  "text",
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     defaultCacheTTL,
		},
		RateLimit: RateLimitConfig{
			Limit:     defaultRateLimit,
			Window:    defaultRateWindow,
			Algorithm: "fixed",
		},
		Upload: DefaultUploadConfig(),
		Health: HealthConfig{
			Timeout: defaultHealthTimeout,
		},
		Activity: ActivityConfig{
			Resource: DefaultActivityResource,
			Buffer:   defaultActivityBuffer,
		},
		Ops: OpsConfig{
			Addr:        ":9090",
			Maintenance: "@every 1m",
		},
	}
}

// LoadConfig starts from DefaultConfig, applies the YAML file at path (if
// path is not empty), loads .env from the working directory when present
// and finally applies OPSCLIENT_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting in one error.
func (c Config) Validate() error {
	var errs []string

	if c.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "maxRetries must be non-negative")
	}
	if c.BaseDelay <= 0 {
		errs = append(errs, "baseDelay must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive when the cache is enabled")
	}
	if c.RateLimit.Limit > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, "rateLimit.window must be positive")
	}
	switch c.RateLimit.Algorithm {
	case "", "fixed", "token":
	default:
		errs = append(errs, fmt.Sprintf("rateLimit.algorithm %q must be fixed or token", c.RateLimit.Algorithm))
	}

	switch c.Log.Backend {
	case "", "logrus", "zap":
	default:
		errs = append(errs, fmt.Sprintf("log.backend %q must be logrus or zap", c.Log.Backend))
	}
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Sprintf("log.level: %v", err))
		}
	}

	switch c.Data.Driver {
	case "":
	case "postgrest":
		if c.Data.URL == "" || c.Data.APIKey == "" {
			errs = append(errs, "data.url and data.apiKey are required for the postgrest driver")
		}
	case "postgres":
		if c.Data.DSN == "" {
			errs = append(errs, "data.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("data.driver %q must be postgrest or postgres", c.Data.Driver))
	}

	switch c.Storage.Driver {
	case "", "s3":
	case "supabase":
		if c.Storage.URL == "" || c.Storage.APIKey == "" {
			errs = append(errs, "storage.url and storage.apiKey are required for the supabase driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q must be supabase or s3", c.Storage.Driver))
	}

	switch c.Activity.Sink {
	case "", "log":
	case "data", "both":
		if c.Data.Driver == "" {
			errs = append(errs, "activity.sink data requires a data driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("activity.sink %q must be log, data or both", c.Activity.Sink))
	}

	if len(errs) > 0 {
		return &APIError{
			Kind:      KindValidation,
			Message:   "invalid configuration: " + strings.Join(errs, "; "),
			Cause:     ErrValidation,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// NewLogger builds the Logger described by cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}

	if cfg.Backend == "zap" {
		zcfg := zap.NewProductionConfig()
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = lvl
		zl, err := zcfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		return NewZapLogger(zl), nil
	}

	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	l.SetLevel(lvl)
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return NewLogrusLogger(l), nil
}

// NewFromConfig opens the configured backends and builds a client. extra
// options are applied last and win over cfg.
func NewFromConfig(ctx context.Context, cfg Config, extra ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	fail := func(err error) (*Client, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	opts := []Option{
		WithLogger(logger),
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
		WithBaseDelay(cfg.BaseDelay),
		WithDefaultHeaders(cfg.Headers),
		WithUploadConfig(cfg.Upload),
		WithHealthTimeout(cfg.Health.Timeout),
		WithExternalServices(cfg.Health.ExternalServices...),
	}
	if cfg.Debug {
		opts = append(opts, WithDebug())
	}
	if cfg.Metrics {
		opts = append(opts, WithMetrics())
	}

	switch {
	case cfg.Cache.Redis.Addr != "":
		redisCache := NewRedisCache(cfg.Cache.Redis, logger)
		closers = append(closers, redisCache)
		opts = append(opts, WithCustomCache(redisCache, cfg.Cache.TTL))
	case !cfg.Cache.Enabled:
		opts = append(opts, WithoutCache())
	case cfg.Cache.MaxEntries > 0:
		opts = append(opts, WithBoundedCache(cfg.Cache.MaxEntries, cfg.Cache.TTL))
	default:
		opts = append(opts, WithCache(cfg.Cache.TTL))
	}
	if cfg.Cache.Coalesce {
		opts = append(opts, WithCoalescing())
	}

	switch {
	case cfg.RateLimit.Limit <= 0:
		opts = append(opts, WithoutRateLimit())
	case cfg.RateLimit.Algorithm == "token":
		opts = append(opts, WithTokenBucketRateLimit(cfg.RateLimit.Limit, cfg.RateLimit.Window))
	default:
		opts = append(opts, WithRateLimit(cfg.RateLimit.Limit, cfg.RateLimit.Window))
		for endpoint, l := range cfg.RateLimit.Endpoints {
			opts = append(opts, WithEndpointRateLimit(endpoint, l.Limit, l.Window))
		}
	}

	var data DataBackend
	switch cfg.Data.Driver {
	case "postgrest":
		pg, err := postgrest.New(postgrest.Config{URL: cfg.Data.URL, APIKey: cfg.Data.APIKey, PingTable: cfg.Data.PingTable})
		if err != nil {
			return fail(fmt.Errorf("postgrest backend: %w", err))
		}
		data = pg
	case "postgres":
		store, err := sqlstore.Open(ctx, cfg.Data.DSN)
		if err != nil {
			return fail(fmt.Errorf("postgres backend: %w", err))
		}
		closers = append(closers, store)
		data = store
	}
	if data != nil {
		opts = append(opts, WithDataBackend(data))
	}

	switch cfg.Storage.Driver {
	case "supabase":
		pg, err := postgrest.New(postgrest.Config{URL: cfg.Storage.URL, APIKey: cfg.Storage.APIKey})
		if err != nil {
			return fail(fmt.Errorf("supabase storage: %w", err))
		}
		opts = append(opts, WithObjectStore(postgrest.NewStore(pg)))
	case "s3":
		store, err := objectstore.New(ctx, objectstore.Config{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
			HealthBucket:    cfg.Storage.HealthBucket,
		})
		if err != nil {
			return fail(fmt.Errorf("s3 storage: %w", err))
		}
		opts = append(opts, WithObjectStore(store))
	}

	var sinks MultiSink
	if cfg.Activity.Sink == "log" || cfg.Activity.Sink == "both" {
		sinks = append(sinks, LoggerSink{Logger: logger})
	}
	if data != nil && (cfg.Activity.Sink == "data" || cfg.Activity.Sink == "both") {
		sinks = append(sinks, DataBackendSink{Backend: data, Resource: cfg.Activity.Resource})
	}
	switch len(sinks) {
	case 0:
	case 1:
		opts = append(opts, WithActivitySink(sinks[0]))
	default:
		opts = append(opts, WithActivitySink(sinks))
	}
	if cfg.Activity.Buffer > 0 {
		opts = append(opts, WithActivityBuffer(cfg.Activity.Buffer))
	}

	opts = append(opts, withClosers(closers...))
	opts = append(opts, extra...)

	client := New(opts...)
	if !client.IsValid() {
		err := client.ValidationError()
		client.Close(ctx)
		return nil, err
	}
	logger.Info("Client configured", "data", cfg.Data.Driver, "storage", cfg.Storage.Driver, "activity", cfg.Activity.Sink)
	return client, nil
}

func withClosers(closers ...io.Closer) Option {
	return func(c *Client) {
		c.closers = append(c.closers, closers...)
	}
}
