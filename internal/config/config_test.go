package config_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gommo/server/internal/config"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.ValidateServer(config.DefaultServer()))
	require.NoError(t, config.ValidateGame(config.DefaultGame()))
}

func TestLoadServerMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, "server_config.json", `{
		"server": {"port": 9000, "max_connections": 64},
		"auth_server": {"host": "auth.internal", "port": 9001},
		"logging": {"level": "debug"}
	}`)

	cfg, err := config.LoadServer(path)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 64, cfg.Server.MaxConnections)
	require.Equal(t, "auth.internal", cfg.AuthServer.Host)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	require.Equal(t, 2, cfg.Server.IOThreads)
	require.Equal(t, 4, cfg.Server.LogicThreads)
	require.Equal(t, "chat_channel", cfg.Chat.Channel)

	require.Equal(t, ":9000", cfg.Server.BindAddr())
	require.Equal(t, "http://auth.internal:9001", cfg.AuthServer.URL())
}

func TestLoadServerMissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadServer(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadServerEnvOverrides(t *testing.T) {
	t.Setenv("GOMMO_SERVER__PORT", "9100")
	t.Setenv("GOMMO_SERVER__OUT_QUEUE_SIZE", "512")
	t.Setenv("GOMMO_LOGGING__FORMAT", "json")

	path := writeConfig(t, "server_config.json", `{"server": {"port": 8085}}`)

	cfg, err := config.LoadServer(path)
	require.NoError(t, err)

	// Env wins over the file, file wins over defaults.
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, 512, cfg.Server.OutQueueSize)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadServerRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "server_config.json", `{"server": {"port": 0}}`)
	_, err := config.LoadServer(path)
	require.ErrorIs(t, err, config.ErrInvalidPort)

	path = writeConfig(t, "server_config.json", `{"logging": {"level": "loud"}}`)
	_, err = config.LoadServer(path)
	require.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestLoadGameMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, "game_config.json", `{
		"gameplay": {"aoi_range": 150.5, "tick_rate": 60},
		"map": {"width": 1000, "height": 800},
		"zones_file": "custom/zones.yaml"
	}`)

	cfg, err := config.LoadGame(path)
	require.NoError(t, err)

	require.Equal(t, float32(150.5), cfg.Gameplay.AOIRange)
	require.Equal(t, 60, cfg.Gameplay.TickRate)
	require.Equal(t, float32(1000), cfg.Map.Width)
	require.Equal(t, "custom/zones.yaml", cfg.ZonesFile)

	require.Equal(t, float32(5), cfg.Gameplay.MoveSpeed)
	require.Equal(t, 500, cfg.Performance.CommandBatchSize)
	require.Equal(t, 3, cfg.Performance.AOIUpdateInterval)

	require.Equal(t, time.Second/60, cfg.Gameplay.TickInterval())
	require.Equal(t, 10*time.Millisecond, cfg.Performance.DrainBudget())
}

func TestLoadGameRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "game_config.json", `{"gameplay": {"tick_rate": 0}}`)
	_, err := config.LoadGame(path)
	require.ErrorIs(t, err, config.ErrInvalidTickRate)

	path = writeConfig(t, "game_config.json", `{"map": {"width": -1}}`)
	_, err = config.LoadGame(path)
	require.ErrorIs(t, err, config.ErrInvalidMapSize)

	path = writeConfig(t, "game_config.json", `{"gameplay": {"move_speed": 0}}`)
	_, err = config.LoadGame(path)
	require.ErrorIs(t, err, config.ErrInvalidMoveSpeed)
}
