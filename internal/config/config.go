// Package config loads the service's Config from a YAML file plus
// environment overrides, mirroring the shape of the original Rust source's
// TOML configuration (Server / Cache / Consumer / Market).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ConsumerKind selects which ConsumerSink implementation the engine wires
// up: a log-only console sink, or a Redis-persistence-backed sink.
type ConsumerKind string

const (
	ConsumerConsole ConsumerKind = "console"
	ConsumerRedis   ConsumerKind = "redis"
)

// Server holds the HTTP ingress listen configuration.
type Server struct {
	Port int `mapstructure:"port"`
}

// Redis holds the connection parameters for the persistence backend.
type Redis struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database int    `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Addr renders Host/Port into a "host:port" dial address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Market names the symbols to bootstrap a Trader for on startup.
type Market struct {
	Symbols []string `mapstructure:"symbols"`
}

// Config is the fully resolved service configuration.
type Config struct {
	Server   Server       `mapstructure:"server"`
	Redis    Redis        `mapstructure:"redis"`
	Consumer ConsumerKind `mapstructure:"consumer"`
	Market   Market       `mapstructure:"market"`
}

func defaults() Config {
	return Config{
		Server:   Server{Port: 8080},
		Redis:    Redis{Host: "localhost", Port: 6379, Database: 0},
		Consumer: ConsumerRedis,
		Market:   Market{Symbols: []string{"BTCUSD"}},
	}
}

// configFileEnvVar names the environment variable that points at the
// config file path, mirroring the original source's LOOM_CONFIG_FILE.
const configFileEnvVar = "LOOM_CONFIG_FILE"

// Load resolves a Config from (in increasing priority): built-in defaults,
// a YAML config file (path from LOOM_CONFIG_FILE, default "config.yaml"),
// and LOOM_-prefixed environment variables (e.g. LOOM_SERVER_PORT,
// LOOM_REDIS_HOST).
func Load() (Config, error) {
	d := defaults()
	v := viper.New()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.database", d.Redis.Database)
	v.SetDefault("consumer", string(d.Consumer))
	v.SetDefault("market.symbols", d.Market.Symbols)

	path := os.Getenv(configFileEnvVar)
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
