package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Market     MarketConfig     `yaml:"market"`
	Collector  CollectorConfig  `yaml:"collector"`
	Provider   ProviderConfig   `yaml:"provider"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Writer     WriterConfig     `yaml:"writer"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// MarketConfig describes the venue trading window the collector gates on.
// Holidays are full-day closures in addition to weekends.
type MarketConfig struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Gating   bool     `yaml:"gating"`
	Holidays []string `yaml:"holidays"`
}

type CollectorConfig struct {
	Indices              []string      `yaml:"indices"`
	Interval             time.Duration `yaml:"interval"`
	MaxConcurrentIndices int           `yaml:"max_concurrent_indices"`
	IndexTimeout         time.Duration `yaml:"index_timeout"`
	ShutdownGrace        time.Duration `yaml:"shutdown_grace"`
	ExpiriesPerIndex     int           `yaml:"expiries_per_index"`
	CycleHistory         int           `yaml:"cycle_history"`
}

type ProviderConfig struct {
	Name                      string               `yaml:"name"`
	BaseURL                   string               `yaml:"base_url"`
	Timeout                   time.Duration        `yaml:"timeout"`
	Token                     string               `yaml:"token"`
	SuppressThrottledFallback bool                 `yaml:"suppress_throttled_fallback"`
	RateLimit                 RateLimitConfig      `yaml:"rate_limit"`
	Cache                     CacheConfig          `yaml:"cache"`
	Coalesce                  CoalesceConfig       `yaml:"coalesce"`
	CircuitBreaker            CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry                     RetryConfig          `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CoalesceConfig struct {
	Window   time.Duration `yaml:"window"`
	MaxBatch int           `yaml:"max_batch"`
}

type CircuitBreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`
	TrackingPeriod      time.Duration `yaml:"tracking_period"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ChannelsConfig struct {
	ChainBuffer int `yaml:"chain_buffer"`
	SpotBuffer  int `yaml:"spot_buffer"`
}

type WriterConfig struct {
	MaxWorkers    int                `yaml:"max_workers"`
	FlushInterval time.Duration      `yaml:"flush_interval"`
	MaxBufferRows int                `yaml:"max_buffer_rows"`
	Partitioning  PartitioningConfig `yaml:"partitioning"`
	Parquet       ParquetConfig      `yaml:"parquet"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

// StorageConfig selects where parquet files land. With S3 disabled the
// writer keeps files under LocalDir, which is also where table metadata
// and the catalog live in both modes.
type StorageConfig struct {
	S3       S3Config `yaml:"s3"`
	LocalDir string   `yaml:"local_dir"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	ChannelSize   bool   `yaml:"channel_size"`
	FetchLatency  bool   `yaml:"fetch_latency"`
	CloudWatch    bool   `yaml:"cloudwatch"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const defaultConfigPath = "config/config.yml"

// envConfigPaths maps environments to the configuration file used when the
// caller did not override the default path.
var envConfigPaths = map[string]string{
	EnvironmentProduction: "config/config.production.yml",
	EnvironmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	// The provider token never lives in the config file in production.
	if v := os.Getenv("OPTIONFLOW_PROVIDER_TOKEN"); v != "" {
		config.Provider.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPTIONFLOW_PROVIDER"); v != "" {
		config.Provider.Name = strings.ToLower(strings.TrimSpace(v))
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// defaultConfig seeds every tunable with the values the service runs with
// when the YAML omits them.
func defaultConfig() *Config {
	return &Config{
		Market: MarketConfig{
			Timezone: "Asia/Kolkata",
			Open:     "09:15",
			Close:    "15:30",
			Gating:   true,
		},
		Collector: CollectorConfig{
			Interval:             60 * time.Second,
			MaxConcurrentIndices: 4,
			IndexTimeout:         30 * time.Second,
			ShutdownGrace:        10 * time.Second,
			ExpiriesPerIndex:     2,
			CycleHistory:         32,
		},
		Provider: ProviderConfig{
			Name:                      "live",
			Timeout:                   10 * time.Second,
			SuppressThrottledFallback: true,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 3,
				BurstSize:         6,
			},
			Cache: CacheConfig{
				TTL:           10 * time.Second,
				SweepInterval: 30 * time.Second,
			},
			Coalesce: CoalesceConfig{
				Window:   20 * time.Millisecond,
				MaxBatch: 25,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:    5,
				RecoveryTimeout:     45 * time.Second,
				HalfOpenMaxRequests: 1,
				TrackingPeriod:      60 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         250 * time.Millisecond,
				MaxDelay:          2 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Channels: ChannelsConfig{
			ChainBuffer: 64,
			SpotBuffer:  64,
		},
		Writer: WriterConfig{
			MaxWorkers:    2,
			FlushInterval: 30 * time.Second,
			MaxBufferRows: 5000,
			Partitioning: PartitioningConfig{
				TimeFormat:     "{year}/{month}/{day}",
				AdditionalKeys: []string{"index", "expiry"},
			},
			Parquet: ParquetConfig{Compression: "snappy"},
		},
		Storage: StorageConfig{
			LocalDir: "data",
		},
		Metrics: MetricsConfig{
			ChannelSize:  true,
			FetchLatency: true,
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Optionflow.Name == "" {
		return fmt.Errorf("optionflow.name is required")
	}

	if cfg.Optionflow.Version == "" {
		return fmt.Errorf("optionflow.version is required")
	}

	if cfg.Market.Timezone == "" {
		return fmt.Errorf("market.timezone is required")
	}
	if !isValidClock(cfg.Market.Open) {
		return fmt.Errorf("market.open %q must be HH:MM", cfg.Market.Open)
	}
	if !isValidClock(cfg.Market.Close) {
		return fmt.Errorf("market.close %q must be HH:MM", cfg.Market.Close)
	}
	for _, day := range cfg.Market.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("market.holidays entry %q must be YYYY-MM-DD", day)
		}
	}

	if len(cfg.Collector.Indices) == 0 {
		return fmt.Errorf("collector.indices must name at least one index")
	}
	if cfg.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than 0")
	}
	if cfg.Collector.MaxConcurrentIndices <= 0 {
		return fmt.Errorf("collector.max_concurrent_indices must be greater than 0")
	}
	if cfg.Collector.IndexTimeout <= 0 {
		return fmt.Errorf("collector.index_timeout must be greater than 0")
	}
	if cfg.Collector.ExpiriesPerIndex <= 0 {
		return fmt.Errorf("collector.expiries_per_index must be greater than 0")
	}

	switch cfg.Provider.Name {
	case "live", "mock", "synthetic":
	default:
		return fmt.Errorf("provider.name must be one of live, mock, synthetic; got %q", cfg.Provider.Name)
	}
	if env := AppEnvironment(); IsProductionLike(env) && cfg.Provider.Name != "live" {
		return fmt.Errorf("provider.name %q is not allowed in the %s environment", cfg.Provider.Name, env)
	}
	if cfg.Provider.Name == "live" && cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required for the live provider")
	}
	if cfg.Provider.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("provider.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Provider.RateLimit.BurstSize < 1 {
		return fmt.Errorf("provider.rate_limit.burst_size must be at least 1")
	}
	if cfg.Provider.Cache.TTL <= 0 {
		return fmt.Errorf("provider.cache.ttl must be greater than 0")
	}
	if cfg.Provider.Coalesce.Window <= 0 {
		return fmt.Errorf("provider.coalesce.window must be greater than 0")
	}
	if cfg.Provider.Coalesce.MaxBatch <= 0 {
		return fmt.Errorf("provider.coalesce.max_batch must be greater than 0")
	}
	if cfg.Provider.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("provider.circuit_breaker.failure_threshold must be greater than 0")
	}
	if cfg.Provider.CircuitBreaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("provider.circuit_breaker.recovery_timeout must be greater than 0")
	}
	if cfg.Provider.CircuitBreaker.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("provider.circuit_breaker.half_open_max_requests must be at least 1")
	}
	if cfg.Provider.Retry.MaxAttempts < 1 {
		return fmt.Errorf("provider.retry.max_attempts must be at least 1")
	}
	if cfg.Provider.Retry.BaseDelay <= 0 {
		return fmt.Errorf("provider.retry.base_delay must be greater than 0")
	}
	if cfg.Provider.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("provider.retry.backoff_multiplier must be at least 1")
	}

	if cfg.Channels.ChainBuffer <= 0 {
		return fmt.Errorf("channels.chain_buffer must be greater than 0")
	}
	if cfg.Channels.SpotBuffer <= 0 {
		return fmt.Errorf("channels.spot_buffer must be greater than 0")
	}

	if cfg.Writer.FlushInterval <= 0 {
		return fmt.Errorf("writer.flush_interval must be greater than 0")
	}
	switch cfg.Writer.Parquet.Compression {
	case "", "snappy", "gzip", "lzo", "uncompressed":
	default:
		return fmt.Errorf("writer.parquet.compression %q must be one of snappy, gzip, lzo, uncompressed", cfg.Writer.Parquet.Compression)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var clockRegexp = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func isValidClock(s string) bool {
	return clockRegexp.MatchString(s)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
