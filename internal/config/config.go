package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/lease"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/repository"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Collector struct {
		Enabled          bool   `yaml:"enabled"`
		URL              string `yaml:"url"`
		PollInterval     int64  `yaml:"poll_interval_seconds"`
		ChatProcessDelay int64  `yaml:"chat_process_delay_seconds"`
	} `yaml:"collector"`
	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
	} `yaml:"telegram"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecret enables bearer auth on /api when set.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Encryption struct {
		Key        string `yaml:"key"`
		Passphrase string `yaml:"passphrase"`
		Salt       string `yaml:"salt"`
	} `yaml:"encryption"`
	Store struct {
		StaleThreshold int64                     `yaml:"stale_threshold"`
		Corpus         model_store.CorpusOptions `yaml:"corpus"`
	} `yaml:"store"`
	Generator generator.Options `yaml:"generator"`
	Redis     struct {
		Enabled bool              `yaml:"enabled"`
		Lease   lease.RedisConfig `yaml:",inline"`
	} `yaml:"redis"`
}

// LoadConfig reads configuration from the specified YAML file. ${VAR}
// references are expanded from the environment before decoding.
func LoadConfig(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	config := &Config{}
	config.Store.StaleThreshold = -1
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = repository.DriverPostgres
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Collector.PollInterval <= 0 {
		c.Collector.PollInterval = 60
	}
	if c.Store.StaleThreshold < 0 {
		c.Store.StaleThreshold = model_store.DefaultStaleThreshold
	}
	def := lease.DefaultRedisConfig()
	if c.Redis.Lease.Addr == "" {
		c.Redis.Lease.Addr = def.Addr
	}
	if c.Redis.Lease.TTL <= 0 {
		c.Redis.Lease.TTL = def.TTL
	}
	c.Generator = c.Generator.WithDefaults()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver != repository.DriverPostgres && c.Database.Driver != repository.DriverSQLite {
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Collector.Enabled && c.Collector.URL == "" {
		errs = append(errs, errors.New("collector.url is required when the collector is enabled"))
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.bot_token is required when telegram is enabled"))
	}
	if c.Encryption.Passphrase != "" && c.Encryption.Salt == "" {
		errs = append(errs, errors.New("encryption.salt is required with a passphrase"))
	}
	if err := c.Generator.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("generator: %w", err))
	}
	// the lease must outlive the longest retrain it guards
	if c.Redis.Enabled && c.Redis.Lease.TTL < c.Generator.TrainingTimeout {
		errs = append(errs, fmt.Errorf("redis.ttl %s is shorter than generator.training_timeout %s",
			c.Redis.Lease.TTL, c.Generator.TrainingTimeout))
	}
	return errors.Join(errs...)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Collector.PollInterval) * time.Second
}

func (c *Config) ChatProcessDelay() time.Duration {
	return time.Duration(c.Collector.ChatProcessDelay) * time.Second
}
