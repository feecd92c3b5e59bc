// stress is a load-generating client: it spawns scripted bots that
// register, log in, enter the world, and drive input and chat against a
// running game server. A summary of everything seen is printed at exit.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/gommo/server/internal/bot"
)

// connectStagger spaces out dials so a big run does not slam the accept
// loop all at once.
const connectStagger = 25 * time.Millisecond

type options struct {
	addr     string
	auth     string
	bots     int
	script   string
	duration time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "stress",
		Short:         "Scripted bot load generator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "game server address")
	cmd.Flags().StringVar(&opts.auth, "auth", "http://127.0.0.1:8081", "auth service base URL (empty sends the bot name as the ticket)")
	cmd.Flags().IntVar(&opts.bots, "bots", 50, "number of concurrent bots")
	cmd.Flags().StringVar(&opts.script, "script", "", "lua behavior script (empty uses the built-in wander)")
	cmd.Flags().DurationVar(&opts.duration, "duration", time.Minute, "how long to run (0 runs until interrupted)")
	return cmd
}

func run(opts options) error {
	if opts.bots < 1 {
		return fmt.Errorf("--bots must be at least 1")
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	log.Info("starting bots",
		zap.Int("bots", opts.bots),
		zap.String("addr", opts.addr),
		zap.Duration("duration", opts.duration))

	stats := bot.NewStats()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.bots; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-time.After(time.Duration(i) * connectStagger):
			case <-gctx.Done():
				return nil
			}

			name := fmt.Sprintf("bot_%04d", i)
			b, err := bot.New(bot.Config{
				Addr:       opts.addr,
				AuthURL:    opts.auth,
				Name:       name,
				ScriptPath: opts.script,
				ZoneID:     1,
			}, stats, log.With(zap.String("bot", name)))
			if err != nil {
				// A broken script file fails the whole run.
				return err
			}
			defer b.Close()

			if err := b.Run(gctx); err != nil {
				log.Warn("bot exited", zap.String("bot", name), zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	printSummary(os.Stdout, opts.bots, time.Since(start), stats)
	return nil
}

func printSummary(w io.Writer, bots int, elapsed time.Duration, s *bot.Stats) {
	sec := elapsed.Seconds()
	if sec <= 0 {
		sec = 1
	}
	snaps := s.Snapshots.Load()
	avgEntities := 0.0
	if snaps > 0 {
		avgEntities = float64(s.Entities.Load()) / float64(snaps)
	}

	fmt.Fprintf(w, "\n  stress run: %d bots over %s\n\n", bots, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  %-22s %d (%d failed)\n", "logins", s.Logins.Load(), s.LoginFails.Load())
	fmt.Fprintf(w, "  %-22s %d (%.0f/s)\n", "inputs sent", s.InputsSent.Load(), float64(s.InputsSent.Load())/sec)
	fmt.Fprintf(w, "  %-22s %d\n", "chat sent", s.ChatSent.Load())
	fmt.Fprintf(w, "  %-22s %d (%.0f/s, avg %.1f entities)\n", "snapshots", snaps, float64(snaps)/sec, avgEntities)
	fmt.Fprintf(w, "  %-22s %d / %d\n", "joins/leaves seen", s.Joins.Load(), s.Leaves.Load())
	fmt.Fprintf(w, "  %-22s %d\n", "chat seen", s.ChatSeen.Load())
	fmt.Fprintf(w, "  %-22s %s / %s\n", "bytes in/out", humanBytes(s.BytesIn.Load()), humanBytes(s.BytesOut.Load()))
	fmt.Fprintf(w, "  %-22s %d\n\n", "disconnects", s.Disconnects.Load())
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncoderConfig.ConsoleSeparator = "  "
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}
