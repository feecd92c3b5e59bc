package authsrv

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gommo/server/internal/persist"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Tickets  TicketConfig   `toml:"tickets"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type DatabaseConfig struct {
	// DSN empty means no database: users and players live in memory and
	// vanish on restart. Useful for development and load testing.
	DSN             string        `toml:"dsn"`
	MaxConns        int           `toml:"max_conns"`
	MinConns        int           `toml:"min_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type TicketConfig struct {
	TTL           time.Duration `toml:"ttl"`
	SweepInterval time.Duration `toml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// PoolConfig converts the database section into the persist layer's form.
func (c DatabaseConfig) PoolConfig() persist.Config {
	return persist.Config{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8081",
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxConns:        10,
			MinConns:        2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Tickets: TicketConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
