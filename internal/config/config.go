// Package config loads settings from an optional YAML file, CHAT_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

const EnvPrefix = "CHAT"

const (
	MethodPassword = "password"
	MethodQRCode   = "qrcode"

	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config holds all configuration values.
type Config struct {
	DataRoot  string          `mapstructure:"data_root"`
	Login     LoginConfig     `mapstructure:"login"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type LoginConfig struct {
	Uin      int64  `mapstructure:"uin"`
	Method   string `mapstructure:"method"`
	Protocol string `mapstructure:"protocol"`
	Password string `mapstructure:"password"`
}

type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

type GatewayConfig struct {
	Addr      string        `mapstructure:"addr"`
	TLS       bool          `mapstructure:"tls"`
	KeepAlive time.Duration `mapstructure:"keep_alive"`
}

// StorageConfig selects where tokens live. Device identities always stay
// on disk.
type StorageConfig struct {
	TokenBackend string        `mapstructure:"token_backend"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_root", "./bots")
	v.SetDefault("login.uin", 0)
	v.SetDefault("login.method", MethodQRCode)
	v.SetDefault("login.protocol", engine.ProtocolAndroidWatch.String())
	v.SetDefault("login.password", "")
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("reconnect.delay", 10*time.Second)
	v.SetDefault("gateway.addr", "localhost:8883")
	v.SetDefault("gateway.tls", true)
	v.SetDefault("gateway.keep_alive", 60*time.Second)
	v.SetDefault("storage.token_backend", BackendFile)
	v.SetDefault("storage.token_ttl", time.Duration(0))
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads path, or config.yaml from . or ./config when path is empty.
// A missing default file is not an error; a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Login.Method {
	case MethodPassword, MethodQRCode:
	default:
		return fmt.Errorf("login.method: unknown method %q", c.Login.Method)
	}
	if _, err := engine.ParseProtocol(c.Login.Protocol); err != nil {
		return fmt.Errorf("login.protocol: %w", err)
	}
	if c.Login.Uin < 0 {
		return fmt.Errorf("login.uin: invalid account id %d", c.Login.Uin)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts: must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.Delay < 0 {
		return fmt.Errorf("reconnect.delay: must not be negative, got %s", c.Reconnect.Delay)
	}
	switch c.Storage.TokenBackend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("storage.token_backend: unknown backend %q", c.Storage.TokenBackend)
	}
	if c.DataRoot == "" {
		return errors.New("data_root: must not be empty")
	}
	return nil
}

// Protocol is the parsed login.protocol.
func (c *Config) Protocol() engine.Protocol {
	p, _ := engine.ParseProtocol(c.Login.Protocol)
	return p
}
