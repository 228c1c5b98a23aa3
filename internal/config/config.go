package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// defaultPath is read when present and PathEnvVar is unset.
const defaultPath = "config.yaml"

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Meili      MeiliConfig      `koanf:"meili"`
	Redis      RedisConfig      `koanf:"redis"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Relay      RelayConfig      `koanf:"relay"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Profile    ProfileConfig    `koanf:"profile"`
	Recommend  RecommendConfig  `koanf:"recommend"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	RateLimit       int           `koanf:"rate_limit" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// MeiliConfig configures the index engine connection.
type MeiliConfig struct {
	Host    string        `koanf:"host" validate:"required,url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// RedisConfig configures the classification cache.
type RedisConfig struct {
	Addr     string `koanf:"addr" validate:"required,hostname_port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
}

// ClassifierConfig configures the zero-shot inference endpoint.
type ClassifierConfig struct {
	URL              string        `koanf:"url" validate:"required,url"`
	Token            string        `koanf:"token"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// RelayConfig configures the nostr relay pool.
type RelayConfig struct {
	URLs              []string      `koanf:"urls" validate:"required,min=1,dive,url"`
	QueryTimeout      time.Duration `koanf:"query_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
}

// IngestConfig configures the ingestion loop.
type IngestConfig struct {
	BatchLimit       int           `koanf:"batch_limit" validate:"min=1"`
	Kinds            []int         `koanf:"kinds" validate:"required,min=1"`
	Interval         time.Duration `koanf:"interval" validate:"gt=0"`
	SampleChunkSize  int           `koanf:"sample_chunk_size" validate:"min=1"`
	PostCacheTTL     time.Duration `koanf:"post_cache_ttl" validate:"gt=0"`
	IterationTimeout time.Duration `koanf:"iteration_timeout" validate:"gt=0"`
}

// ProfileConfig configures interest profile construction.
type ProfileConfig struct {
	Lookback       time.Duration `koanf:"lookback" validate:"gt=0"`
	MinEvents      int           `koanf:"min_events" validate:"min=1"`
	CacheTTL       time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	Concurrency    int           `koanf:"concurrency" validate:"min=1"`
	HistoryLimit   int           `koanf:"history_limit" validate:"min=1"`
	ReferenceBatch int           `koanf:"reference_batch" validate:"min=1"`
}

// RecommendConfig configures the recommendation endpoint.
type RecommendConfig struct {
	ScaleFactor  int           `koanf:"scale_factor" validate:"min=1"`
	DefaultLimit int           `koanf:"default_limit" validate:"min=1,ltefield=MaxLimit"`
	MaxLimit     int           `koanf:"max_limit" validate:"min=1,max=1000"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Meili: MeiliConfig{
			Host:    "http://localhost:7700",
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Classifier: ClassifierConfig{
			URL:              "http://localhost:8080/classify",
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Relay: RelayConfig{
			URLs: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
			QueryTimeout:      10 * time.Second,
			RequestsPerSecond: 5,
		},
		Ingest: IngestConfig{
			BatchLimit:       200,
			Kinds:            []int{1},
			Interval:         5 * time.Second,
			SampleChunkSize:  45,
			PostCacheTTL:     12 * time.Minute,
			IterationTimeout: 10 * time.Minute,
		},
		Profile: ProfileConfig{
			Lookback:       90 * 24 * time.Hour,
			MinEvents:      40,
			CacheTTL:       24 * time.Hour,
			Concurrency:    8,
			HistoryLimit:   500,
			ReferenceBatch: 100,
		},
		Recommend: RecommendConfig{
			ScaleFactor:  100,
			DefaultLimit: 20,
			MaxLimit:     100,
			Timeout:      5 * time.Second,
		},
	}
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"port":                     "server.port",
	"http_read_timeout":        "server.read_timeout",
	"http_write_timeout":       "server.write_timeout",
	"http_rate_limit":          "server.rate_limit",
	"http_rate_limit_window":   "server.rate_limit_window",
	"log_level":                "log.level",
	"meili_host_url":           "meili.host",
	"meili_master_key":         "meili.api_key",
	"meili_timeout":            "meili.timeout",
	"redis_addr":               "redis.addr",
	"redis_password":           "redis.password",
	"redis_db":                 "redis.db",
	"classifier_url":           "classifier.url",
	"classifier_token":         "classifier.token",
	"classifier_timeout":       "classifier.timeout",
	"classifier_breaker_fails": "classifier.failure_threshold",
	"classifier_breaker_open":  "classifier.open_timeout",
	"nostr_relays":             "relay.urls",
	"relay_query_timeout":      "relay.query_timeout",
	"relay_requests_per_sec":   "relay.requests_per_second",
	"ingest_batch_limit":       "ingest.batch_limit",
	"ingest_kinds":             "ingest.kinds",
	"ingest_interval":          "ingest.interval",
	"ingest_sample_chunk_size": "ingest.sample_chunk_size",
	"ingest_post_cache_ttl":    "ingest.post_cache_ttl",
	"ingest_iteration_timeout": "ingest.iteration_timeout",
	"profile_lookback":         "profile.lookback",
	"profile_min_events":       "profile.min_events",
	"profile_cache_ttl":        "profile.cache_ttl",
	"profile_concurrency":      "profile.concurrency",
	"profile_history_limit":    "profile.history_limit",
	"profile_reference_batch":  "profile.reference_batch",
	"recommend_scale_factor":   "recommend.scale_factor",
	"recommend_default_limit":  "recommend.default_limit",
	"recommend_max_limit":      "recommend.max_limit",
	"recommend_timeout":        "recommend.timeout",
}

// sliceConfigPaths are split on commas when they arrive as strings.
var sliceConfigPaths = []string{
	"relay.urls",
	"ingest.kinds",
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func findConfigFile() string {
	if path := os.Getenv(PathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}
	return ""
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}

		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
