// Package config loads the game server configuration with koanf/v2.
//
// Two files drive the server: server_config.json (transport, auth, chat,
// metrics, logging) and game_config.json (gameplay tuning). Each loads as
// compiled defaults, then the JSON file, then GOMMO_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ServerConfig holds everything from server_config.json.
type ServerConfig struct {
	Server     ServerSection  `koanf:"server"`
	AuthServer AuthSection    `koanf:"auth_server"`
	Chat       ChatSection    `koanf:"chat"`
	Metrics    MetricsSection `koanf:"metrics"`
	Logging    LoggingSection `koanf:"logging"`
}

type ServerSection struct {
	// Port is the game TCP listen port.
	Port int `koanf:"port"`
	// IOThreads is the number of accept loops on the listener.
	IOThreads int `koanf:"io_threads"`
	// LogicThreads sizes the ingress worker pool.
	LogicThreads int `koanf:"logic_threads"`
	// MaxConnections rejects new clients once this many sessions exist.
	MaxConnections int `koanf:"max_connections"`
	// OutQueueSize bounds each session's outbound frame queue.
	OutQueueSize int `koanf:"out_queue_size"`
	// JobQueueSize bounds the ingress job queue shared by the workers.
	JobQueueSize int `koanf:"job_queue_size"`
	// PacketsPerSecond rate-limits inbound packets per session. 0 disables.
	PacketsPerSecond int `koanf:"packets_per_second"`
}

type AuthSection struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type ChatSection struct {
	// BrokerURL is the NATS endpoint. Empty runs the in-process loopback
	// broker instead, for single-node deployments and tests.
	BrokerURL string `koanf:"broker_url"`
	Channel   string `koanf:"channel"`
}

type MetricsSection struct {
	// Addr is the Prometheus HTTP listen address. Empty disables the endpoint.
	Addr string `koanf:"addr"`
}

type LoggingSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// GameConfig holds everything from game_config.json.
type GameConfig struct {
	Gameplay    GameplaySection    `koanf:"gameplay"`
	Map         MapSection         `koanf:"map"`
	Performance PerformanceSection `koanf:"performance"`
	// ZonesFile points at the YAML zone table.
	ZonesFile string `koanf:"zones_file"`
}

type GameplaySection struct {
	// AOIRange is the interest radius in world units.
	AOIRange float32 `koanf:"aoi_range"`
	// ChatRange is reserved for ranged chat.
	ChatRange float32 `koanf:"chat_range"`
	// MoveSpeed is units per second at full input.
	MoveSpeed float32 `koanf:"move_speed"`
	// TickRate is simulation ticks per second.
	TickRate int `koanf:"tick_rate"`
}

type MapSection struct {
	Width  float32 `koanf:"width"`
	Height float32 `koanf:"height"`
}

type PerformanceSection struct {
	// CommandBatchSize caps commands drained per tick.
	CommandBatchSize int `koanf:"command_batch_size"`
	// MaxProcessingTimeMS is the soft per-tick budget for the drain phase.
	MaxProcessingTimeMS int `koanf:"max_processing_time_ms"`
	// AOIUpdateInterval is the cache refresh age in ticks.
	AOIUpdateInterval int `koanf:"aoi_update_interval"`
	// AOIPositionThreshold is the movement distance that invalidates the cache.
	AOIPositionThreshold float32 `koanf:"aoi_position_threshold"`
}

// URL renders the auth service base URL.
func (a AuthSection) URL() string {
	return fmt.Sprintf("http://%s:%d", a.Host, a.Port)
}

// BindAddr renders the game listener address.
func (s ServerSection) BindAddr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// TickInterval converts the tick rate to a ticker period.
func (g GameplaySection) TickInterval() time.Duration {
	return time.Second / time.Duration(g.TickRate)
}

// DrainBudget converts the per-tick processing budget to a duration.
func (p PerformanceSection) DrainBudget() time.Duration {
	return time.Duration(p.MaxProcessingTimeMS) * time.Millisecond
}

// DefaultServer returns the compiled server defaults.
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Port:             8080,
			IOThreads:        2,
			LogicThreads:     4,
			MaxConnections:   600,
			OutQueueSize:     256,
			JobQueueSize:     1024,
			PacketsPerSecond: 60,
		},
		AuthServer: AuthSection{
			Host: "127.0.0.1",
			Port: 8081,
		},
		Chat: ChatSection{
			BrokerURL: "",
			Channel:   "chat_channel",
		},
		Metrics: MetricsSection{
			Addr: ":9100",
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultGame returns the compiled gameplay defaults.
func DefaultGame() *GameConfig {
	return &GameConfig{
		Gameplay: GameplaySection{
			AOIRange:  100,
			ChatRange: 50,
			MoveSpeed: 5,
			TickRate:  30,
		},
		Map: MapSection{
			Width:  200,
			Height: 200,
		},
		Performance: PerformanceSection{
			CommandBatchSize:     500,
			MaxProcessingTimeMS:  10,
			AOIUpdateInterval:    3,
			AOIPositionThreshold: 10,
		},
		ZonesFile: "config/zones.yaml",
	}
}

// envPrefix is the environment variable prefix for overrides. Sections and
// keys are separated by a double underscore because key names themselves
// contain single underscores: GOMMO_SERVER__OUT_QUEUE_SIZE -> server.out_queue_size.
const envPrefix = "GOMMO_"

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// LoadServer reads server_config.json from path. The file must exist;
// callers decide whether a missing default-path file falls back to defaults.
func LoadServer(path string) (*ServerConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	k := koanf.New(".")

	if err := loadServerDefaults(k); err != nil {
		return nil, fmt.Errorf("load server defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load server config %s: %w", path, err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &ServerConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	if err := ValidateServer(cfg); err != nil {
		return nil, fmt.Errorf("validate server config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadGame reads game_config.json from path.
func LoadGame(path string) (*GameConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("game config: %w", err)
	}

	k := koanf.New(".")

	if err := loadGameDefaults(k); err != nil {
		return nil, fmt.Errorf("load game defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load game config %s: %w", path, err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &GameConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal game config: %w", err)
	}
	if err := ValidateGame(cfg); err != nil {
		return nil, fmt.Errorf("validate game config %s: %w", path, err)
	}
	return cfg, nil
}

func loadServerDefaults(k *koanf.Koanf) error {
	d := DefaultServer()
	defaults := map[string]any{
		"server.port":               d.Server.Port,
		"server.io_threads":         d.Server.IOThreads,
		"server.logic_threads":      d.Server.LogicThreads,
		"server.max_connections":    d.Server.MaxConnections,
		"server.out_queue_size":     d.Server.OutQueueSize,
		"server.job_queue_size":     d.Server.JobQueueSize,
		"server.packets_per_second": d.Server.PacketsPerSecond,
		"auth_server.host":          d.AuthServer.Host,
		"auth_server.port":          d.AuthServer.Port,
		"chat.broker_url":           d.Chat.BrokerURL,
		"chat.channel":              d.Chat.Channel,
		"metrics.addr":              d.Metrics.Addr,
		"logging.level":             d.Logging.Level,
		"logging.format":            d.Logging.Format,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

func loadGameDefaults(k *koanf.Koanf) error {
	d := DefaultGame()
	defaults := map[string]any{
		"gameplay.aoi_range":                 d.Gameplay.AOIRange,
		"gameplay.chat_range":                d.Gameplay.ChatRange,
		"gameplay.move_speed":                d.Gameplay.MoveSpeed,
		"gameplay.tick_rate":                 d.Gameplay.TickRate,
		"map.width":                          d.Map.Width,
		"map.height":                         d.Map.Height,
		"performance.command_batch_size":     d.Performance.CommandBatchSize,
		"performance.max_processing_time_ms": d.Performance.MaxProcessingTimeMS,
		"performance.aoi_update_interval":    d.Performance.AOIUpdateInterval,
		"performance.aoi_position_threshold": d.Performance.AOIPositionThreshold,
		"zones_file":                         d.ZonesFile,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrInvalidPort      = errors.New("server.port must be between 1 and 65535")
	ErrInvalidThreads   = errors.New("server.io_threads and server.logic_threads must be >= 1")
	ErrInvalidQueueSize = errors.New("server.out_queue_size and server.job_queue_size must be >= 1")
	ErrInvalidLogLevel  = errors.New("logging.level must be debug, info, warn or error")
	ErrInvalidTickRate  = errors.New("gameplay.tick_rate must be >= 1")
	ErrInvalidMoveSpeed = errors.New("gameplay.move_speed must be > 0")
	ErrInvalidAOIRange  = errors.New("gameplay.aoi_range must be > 0")
	ErrInvalidMapSize   = errors.New("map.width and map.height must be > 0")
	ErrInvalidBatchSize = errors.New("performance.command_batch_size must be >= 1")
)

// ValidateServer checks server_config values. Returns the first error found.
func ValidateServer(cfg *ServerConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if cfg.Server.IOThreads < 1 || cfg.Server.LogicThreads < 1 {
		return ErrInvalidThreads
	}
	if cfg.Server.OutQueueSize < 1 || cfg.Server.JobQueueSize < 1 {
		return ErrInvalidQueueSize
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}

// ValidateGame checks game_config values. Returns the first error found.
func ValidateGame(cfg *GameConfig) error {
	if cfg.Gameplay.TickRate < 1 {
		return ErrInvalidTickRate
	}
	if cfg.Gameplay.MoveSpeed <= 0 {
		return ErrInvalidMoveSpeed
	}
	if cfg.Gameplay.AOIRange <= 0 {
		return ErrInvalidAOIRange
	}
	if cfg.Map.Width <= 0 || cfg.Map.Height <= 0 {
		return ErrInvalidMapSize
	}
	if cfg.Performance.CommandBatchSize < 1 {
		return ErrInvalidBatchSize
	}
	return nil
}
