package config

import (
	"fmt"
	"os"
	"time"

	"trancheflow/pkg/config"
)

// 存储后端
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	FilePath string `yaml:"file_path"`
}

type LockConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	Env         string                   `yaml:"env"`
	Server      config.ServerConfig      `yaml:"server"`
	Store       StoreConfig              `yaml:"store"`
	DB          config.DBConfig          `yaml:"db"`
	MQ          config.MQConfig          `yaml:"mq"`
	Redis       config.RedisConfig       `yaml:"redis"`
	Lock        LockConfig               `yaml:"lock"`
	Outbox      OutboxConfig             `yaml:"outbox"`
	Judge       config.JudgeConfig       `yaml:"judge"`
	ObjectStore config.ObjectStoreConfig `yaml:"object_store"`
	OTel        config.OTelConfig        `yaml:"otel"`
}

// Load 读取 config/base.yaml + config/<CONFIG_ENV>.yaml，环境变量优先级最高
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJudgeFromEnv(&cfg.Judge)
	config.OverrideObjectStoreFromEnv(&cfg.ObjectStore)
	config.OverrideOTelFromEnv(&cfg.OTel)
	overrideStoreFromEnv(&cfg.Store)

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideStoreFromEnv(cfg *StoreConfig) {
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Driver = driver
	}
	if path := os.Getenv("STORE_FILE_PATH"); path != "" {
		cfg.FilePath = path
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreFile
	}
	if cfg.Store.FilePath == "" {
		cfg.Store.FilePath = "data/projects.json"
	}
	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = 10 * time.Second
	}
	if cfg.Outbox.Interval <= 0 {
		cfg.Outbox.Interval = time.Second
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 50
	}
	if cfg.Outbox.MaxRetries <= 0 {
		cfg.Outbox.MaxRetries = 5
	}
	if cfg.Judge.CacheTTL <= 0 {
		cfg.Judge.CacheTTL = time.Hour
	}
}

// Validate 检查组合配置是否可用
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return fmt.Errorf("store driver %q requires db.host and db.name", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.ObjectStore.Endpoint != "" && c.ObjectStore.Bucket == "" {
		return fmt.Errorf("object_store.bucket is required when object_store.endpoint is set")
	}
	return nil
}
