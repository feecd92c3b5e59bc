// gommo is the game server: framed TCP transport, ingress workers, and
// the authoritative simulation loop, wired per config/server_config.json
// and config/game_config.json.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/gommo/server/internal/auth"
	"github.com/gommo/server/internal/chat"
	"github.com/gommo/server/internal/config"
	"github.com/gommo/server/internal/data"
	"github.com/gommo/server/internal/game"
	"github.com/gommo/server/internal/handler"
	"github.com/gommo/server/internal/metrics"
	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
	"github.com/gommo/server/internal/sim"
)

const (
	defaultServerConfigPath = "config/server_config.json"
	defaultGameConfigPath   = "config/game_config.json"

	// nameCacheSize bounds the id→name table; well above the connection
	// cap so churn does not evict names of players still in the world.
	nameCacheSize = 10000

	systemSampleInterval = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

type options struct {
	port         int
	ioThreads    int
	logicThreads int
	serverConfig string
	gameConfig   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "gommo",
		Short: "Authoritative real-time game server",
		Long: "gommo accepts length-framed TCP game clients, verifies their\n" +
			"tickets against the auth service, and runs the fixed-rate world\n" +
			"simulation that feeds each client its area-of-interest snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", 8080, "game TCP listen port")
	cmd.Flags().IntVar(&opts.ioThreads, "io-threads", 2, "accept loops on the listener")
	cmd.Flags().IntVar(&opts.logicThreads, "logic-threads", 4, "ingress worker count")
	cmd.Flags().StringVar(&opts.serverConfig, "server-config", defaultServerConfigPath, "server config file (json)")
	cmd.Flags().StringVar(&opts.gameConfig, "game-config", defaultGameConfigPath, "game config file (json)")

	return cmd
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              gommo  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      authoritative game server core       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run(cmd *cobra.Command, opts *options) error {
	// 1. Load config. A missing file at the default path runs on compiled
	// defaults; an explicitly given path must exist.
	var startupWarns []string

	serverCfg, warn, err := loadServerConfig(opts.serverConfig, cmd.Flags().Changed("server-config"))
	if err != nil {
		return err
	}
	if warn != "" {
		startupWarns = append(startupWarns, warn)
	}

	gameCfg, warn, err := loadGameConfig(opts.gameConfig, cmd.Flags().Changed("game-config"))
	if err != nil {
		return err
	}
	if warn != "" {
		startupWarns = append(startupWarns, warn)
	}

	// Explicit flags win over file values.
	if cmd.Flags().Changed("port") {
		serverCfg.Server.Port = opts.port
	}
	if cmd.Flags().Changed("io-threads") {
		serverCfg.Server.IOThreads = opts.ioThreads
	}
	if cmd.Flags().Changed("logic-threads") {
		serverCfg.Server.LogicThreads = opts.logicThreads
	}
	if err := config.ValidateServer(serverCfg); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := config.ValidateGame(gameCfg); err != nil {
		return fmt.Errorf("game config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(serverCfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	for _, w := range startupWarns {
		log.Warn(w)
	}

	printBanner()

	// 3. Load zone table
	printSection("data")

	zones, err := loadZoneTable(gameCfg.ZonesFile, log)
	if err != nil {
		return err
	}
	printStat("zones", zones.Count())

	// 4. Metrics
	reg := prometheus.NewRegistry()
	col := metrics.NewCollector(reg)
	sampler := metrics.NewSystemSampler(col, log)

	// 5. Command queue, ingress pool, packet handlers
	queue := game.NewCommandQueue(log)
	names := game.NewNameCache(nameCacheSize)
	registry := packet.NewRegistry(log)

	authClient := auth.NewClient(serverCfg.AuthServer.Host, serverCfg.AuthServer.Port, log)

	broker, err := newBroker(serverCfg.Chat, log)
	if err != nil {
		return fmt.Errorf("chat broker: %w", err)
	}
	defer broker.Close()

	handler.RegisterAll(registry, &handler.Deps{
		Auth:        authClient,
		Chat:        broker,
		ChatChannel: serverCfg.Chat.Channel,
		Names:       names,
		Log:         log,
	})

	ingress := game.NewIngressPool(serverCfg.Server.JobQueueSize, queue, registry, log)
	ingress.Start(serverCfg.Server.LogicThreads)
	printOK(fmt.Sprintf("ingress pool started (%d workers)", serverCfg.Server.LogicThreads))

	// 6. Network server
	netServer, err := gnet.NewServer(gnet.ServerConfig{
		BindAddr:         serverCfg.Server.BindAddr(),
		AcceptLoops:      serverCfg.Server.IOThreads,
		MaxConns:         serverCfg.Server.MaxConnections,
		OutQueueSize:     serverCfg.Server.OutQueueSize,
		PacketsPerSecond: serverCfg.Server.PacketsPerSecond,
	}, ingress, queue, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	netServer.SetMetrics(col)

	// 7. Chat bridge fans broker messages back into sessions
	bridge := chat.NewBridge(broker, netServer.Sessions(), serverCfg.Chat.Channel, log)
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("chat bridge: %w", err)
	}
	printOK(fmt.Sprintf("chat bridge on %q", bridge.Channel()))

	// 8. Simulation
	simulation := sim.New(sim.Config{
		TickRate:             gameCfg.Gameplay.TickRate,
		AOIRange:             gameCfg.Gameplay.AOIRange,
		ChatRange:            gameCfg.Gameplay.ChatRange,
		MoveSpeed:            gameCfg.Gameplay.MoveSpeed,
		MapWidth:             gameCfg.Map.Width,
		MapHeight:            gameCfg.Map.Height,
		CommandBatchSize:     gameCfg.Performance.CommandBatchSize,
		DrainBudget:          gameCfg.Performance.DrainBudget(),
		AOIUpdateInterval:    uint64(gameCfg.Performance.AOIUpdateInterval),
		AOIPositionThreshold: gameCfg.Performance.AOIPositionThreshold,
	}, queue, netServer.Sessions(), zones, names, col, sampler, log)

	// 9. Run everything until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		simulation.Run(gctx)
		return nil
	})

	g.Go(func() error {
		sampler.Run(gctx, systemSampleInterval)
		return nil
	})

	if serverCfg.Metrics.Addr != "" {
		metricsSrv := &http.Server{
			Addr:              serverCfg.Metrics.Addr,
			Handler:           newMetricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutCtx)
		})
	}

	netServer.Start()

	// Teardown runs producer-side first so nothing pushes into a dead
	// queue: listener and sessions, then ingress, then the queue itself.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		netServer.Shutdown()
		ingress.Stop()
		queue.Shutdown()
		return nil
	})

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr()))
	printReady(fmt.Sprintf("simulation at %d Hz, map %.0f×%.0f",
		gameCfg.Gameplay.TickRate, gameCfg.Map.Width, gameCfg.Map.Height))
	fmt.Println()

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// loadServerConfig resolves the missing-file policy: explicit paths must
// load, the default path falls back to compiled defaults with a warning.
func loadServerConfig(path string, explicit bool) (*config.ServerConfig, string, error) {
	cfg, err := config.LoadServer(path)
	if err == nil {
		return cfg, "", nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.DefaultServer(), fmt.Sprintf("server config %s not found, using defaults", path), nil
	}
	return nil, "", err
}

func loadGameConfig(path string, explicit bool) (*config.GameConfig, string, error) {
	cfg, err := config.LoadGame(path)
	if err == nil {
		return cfg, "", nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.DefaultGame(), fmt.Sprintf("game config %s not found, using defaults", path), nil
	}
	return nil, "", err
}

// loadZoneTable falls back to the built-in single zone when the file is
// absent, so a bare checkout starts without any data directory.
func loadZoneTable(path string, log *zap.Logger) (*data.ZoneTable, error) {
	if path == "" {
		return data.DefaultZones(), nil
	}
	zones, err := data.LoadZones(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("zone table not found, using built-in default zone", zap.String("path", path))
			return data.DefaultZones(), nil
		}
		return nil, fmt.Errorf("zone table: %w", err)
	}
	return zones, nil
}

// newBroker picks NATS when a broker URL is configured, otherwise the
// in-process loopback that keeps chat working on a single node.
func newBroker(cfg config.ChatSection, log *zap.Logger) (chat.Broker, error) {
	if cfg.BrokerURL == "" {
		log.Info("chat broker: in-process loopback")
		return chat.NewLoopback(), nil
	}
	return chat.ConnectNATS(cfg.BrokerURL, log)
}

func newMetricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func newLogger(cfg config.LoggingSection) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
