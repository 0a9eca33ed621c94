package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SIRENLINK"

// Config is the full process configuration. It is loaded once in main and
// handed to constructors; nothing in internal/ reads viper directly.
type Config struct {
	Port     string         `mapstructure:"port"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Commands CommandsConfig `mapstructure:"commands"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	WS       WSConfig       `mapstructure:"ws"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type MQTTConfig struct {
	Broker            string        `mapstructure:"broker"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	ClientIDPrefix    string        `mapstructure:"client_id_prefix"`
	KeepAlive         time.Duration `mapstructure:"keepalive"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout"`
}

type CommandsConfig struct {
	DefaultTTLMs  int           `mapstructure:"default_ttl_ms"`
	MinTTLMs      int           `mapstructure:"min_ttl_ms"`
	MaxTTLMs      int           `mapstructure:"max_ttl_ms"`
	PendingWindow time.Duration `mapstructure:"pending_window"`
}

// maxTTLMsLimit keeps ttl * time.Millisecond inside time.Duration.
const maxTTLMsLimit = math.MaxInt64 / int64(time.Millisecond)

// DefaultTTL is DefaultTTLMs as a duration.
func (c CommandsConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMs) * time.Millisecond
}

type AuthConfig struct {
	SigningKey        string        `mapstructure:"signing_key"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	BootstrapUsername string        `mapstructure:"bootstrap_username"`
	BootstrapPassword string        `mapstructure:"bootstrap_password"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

// Enabled reports whether the redis state mirror should be started.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type WSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("db.path", "sirenlink.db")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id_prefix", "backend-api")
	v.SetDefault("mqtt.keepalive", "30s")
	v.SetDefault("mqtt.reconnect_interval", "2s")
	v.SetDefault("mqtt.publish_timeout", "5s")

	v.SetDefault("commands.default_ttl_ms", 300_000)
	v.SetDefault("commands.min_ttl_ms", 100)
	v.SetDefault("commands.max_ttl_ms", 86_400_000)
	v.SetDefault("commands.pending_window", "2m")

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.bootstrap_username", "")
	v.SetDefault("auth.bootstrap_password", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.state_ttl", "24h")

	v.SetDefault("ws.allowed_origins", []string{})
}

// Load reads <dir>/config.yml when present, applies SIRENLINK_* environment
// overrides, and validates the result. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Commands.DefaultTTLMs <= 0 {
		return fmt.Errorf("commands.default_ttl_ms must be > 0, got %d", c.Commands.DefaultTTLMs)
	}
	if c.Commands.MinTTLMs < 0 {
		return fmt.Errorf("commands.min_ttl_ms must be >= 0, got %d", c.Commands.MinTTLMs)
	}
	if c.Commands.MaxTTLMs < c.Commands.DefaultTTLMs || c.Commands.MaxTTLMs < c.Commands.MinTTLMs {
		return fmt.Errorf("commands.max_ttl_ms must be >= default_ttl_ms and min_ttl_ms, got %d", c.Commands.MaxTTLMs)
	}
	if int64(c.Commands.MaxTTLMs) > maxTTLMsLimit {
		return fmt.Errorf("commands.max_ttl_ms must be <= %d, got %d", maxTTLMsLimit, c.Commands.MaxTTLMs)
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.MQTT.PublishTimeout <= 0 {
		return fmt.Errorf("mqtt.publish_timeout must be > 0, got %s", c.MQTT.PublishTimeout)
	}
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return errors.New("auth.signing_key is required")
	}
	return nil
}
