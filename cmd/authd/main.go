// authd is the authentication service: account registration, login, and
// the session-ticket verify endpoint the game server calls. Accounts live
// in Postgres when a DSN is configured, otherwise in memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/gommo/server/internal/authsrv"
	"github.com/gommo/server/internal/persist"
)

const (
	defaultConfigPath = "config/authd.toml"
	dbConnectTimeout  = 30 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "authd",
		Short:         "Authentication and session-ticket service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath, cmd.Flags().Changed("config"))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "config file (toml)")
	return cmd
}

func run(configPath string, explicit bool) error {
	cfg, warn, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if warn != "" {
		log.Warn(warn)
	}

	users, players, cleanup, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	tickets := authsrv.NewTicketStore(cfg.Tickets.TTL)
	srv := authsrv.NewServer(users, players, tickets, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tickets.Janitor(gctx, cfg.Tickets.SweepInterval, log)
		return nil
	})

	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.ListenAddr)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("auth service stopped")
	return nil
}

func loadConfig(path string, explicit bool) (*authsrv.Config, string, error) {
	cfg, err := authsrv.LoadConfig(path)
	if err == nil {
		return cfg, "", nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return authsrv.DefaultConfig(), fmt.Sprintf("config %s not found, using defaults", path), nil
	}
	return nil, "", err
}

// openStores picks Postgres repositories when a DSN is configured,
// otherwise the in-memory stores. The returned cleanup closes the pool.
func openStores(cfg *authsrv.Config, log *zap.Logger) (authsrv.UserStore, authsrv.PlayerStore, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured, accounts are in-memory")
		return authsrv.NewMemUserStore(), authsrv.NewMemPlayerStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database.PoolConfig(), log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := persist.Migrate(ctx, db.Pool); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrations: %w", err)
	}
	log.Info("database ready")

	return persist.NewUserRepo(db), persist.NewPlayerRepo(db), db.Close, nil
}

func newLogger(cfg authsrv.LoggingConfig) (*zap.Logger, error) {
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
