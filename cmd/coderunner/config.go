package main

import (
	"fmt"
	"os"
	"time"

	"coderunner/internal/common/cache"
	"coderunner/internal/common/mq"
	"coderunner/internal/common/storage"
	"coderunner/internal/execution/backend/batch"
	"coderunner/internal/execution/backend/local"
	"coderunner/internal/execution/backend/stream"
	"coderunner/internal/execution/sink"
	"coderunner/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 100 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultWaitTimeout     = 90 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultRetention       = 24 * time.Hour
	defaultPruneInterval   = 10 * time.Minute
	defaultTriggerTopic    = "coderunner.triggers"
	defaultMessageTTL      = 5 * time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// WaitTimeout bounds a submit that waits for its result.
	WaitTimeout time.Duration `yaml:"waitTimeout"`
}

// BatchConfig enables the remote batch provider.
type BatchConfig struct {
	Enabled      bool `yaml:"enabled"`
	batch.Config `yaml:",inline"`
}

// StreamConfig enables the remote streaming provider.
type StreamConfig struct {
	Enabled       bool `yaml:"enabled"`
	stream.Config `yaml:",inline"`
}

// LocalConfig enables the local sandbox.
type LocalConfig struct {
	Enabled bool `yaml:"enabled"`
	// Templates is the YAML file with one command template per language.
	Templates    string `yaml:"templates"`
	local.Config `yaml:",inline"`
}

// BackendsConfig lists the providers. Later ones win a language offered by several.
type BackendsConfig struct {
	Batch  BatchConfig  `yaml:"batch"`
	Stream StreamConfig `yaml:"stream"`
	Local  LocalConfig  `yaml:"local"`
}

// InvokationConfig tunes the invokation service.
type InvokationConfig struct {
	IndicatorDelay time.Duration `yaml:"indicatorDelay"`
	SinkTimeout    time.Duration `yaml:"sinkTimeout"`
	MaxCodeBytes   int           `yaml:"maxCodeBytes"`
	// Retention is how long settled triggers stay toggleable.
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"pruneInterval"`
}

// OutputConfig selects where rendered outputs go. Without a redis address
// outputs are kept in memory.
type OutputConfig struct {
	Redis cache.RedisConfig   `yaml:"redis"`
	Store sink.RedisConfig    `yaml:"store"`
	MinIO storage.MinIOConfig `yaml:"minio"`
	// EventsTopic receives an event per output change when kafka is configured.
	EventsTopic string `yaml:"eventsTopic"`
}

// KafkaConfig holds the trigger queue settings.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`
	TriggerTopic   string        `yaml:"triggerTopic"`
	ConsumerGroup  string        `yaml:"consumerGroup"`
	InFlight       int           `yaml:"inFlight"`
	MessageTTL     time.Duration `yaml:"messageTTL"`
}

// IsEnabled reports whether kafka brokers are configured.
func (c KafkaConfig) IsEnabled() bool {
	return len(c.Brokers) > 0
}

func (c KafkaConfig) toSubscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup: c.ConsumerGroup,
		InFlight:      c.InFlight,
		MessageTTL:    c.MessageTTL,
	}
}

// AppConfig holds the coderunner configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Logger     logger.Config    `yaml:"logger"`
	Backends   BackendsConfig   `yaml:"backends"`
	Invokation InvokationConfig `yaml:"invokation"`
	Output     OutputConfig     `yaml:"output"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	b := cfg.Backends
	if !b.Batch.Enabled && !b.Stream.Enabled && !b.Local.Enabled {
		return fmt.Errorf("at least one backend must be enabled")
	}
	if b.Local.Enabled && b.Local.Templates == "" {
		return fmt.Errorf("local backend requires a templates file")
	}
	if cfg.Output.MinIO.Endpoint != "" {
		if cfg.Output.Redis.Addr == "" {
			return fmt.Errorf("attachment offload requires the redis output store")
		}
		if cfg.Output.Store.Bucket == "" {
			cfg.Output.Store.Bucket = cfg.Output.MinIO.Bucket
		}
		if cfg.Output.Store.Bucket == "" {
			return fmt.Errorf("minio bucket is required for attachment offload")
		}
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.WaitTimeout == 0 {
		cfg.Server.WaitTimeout = defaultWaitTimeout
	}

	if cfg.Invokation.Retention == 0 {
		cfg.Invokation.Retention = defaultRetention
	}
	if cfg.Invokation.PruneInterval == 0 {
		cfg.Invokation.PruneInterval = defaultPruneInterval
	}

	if cfg.Output.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Output.Redis)
	}

	if cfg.Kafka.IsEnabled() {
		if cfg.Kafka.TriggerTopic == "" {
			cfg.Kafka.TriggerTopic = defaultTriggerTopic
		}
		if cfg.Kafka.MessageTTL == 0 {
			cfg.Kafka.MessageTTL = defaultMessageTTL
		}
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}
