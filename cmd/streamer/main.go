// streamer runs the stream manager behind the HTTP/WebSocket gateway.
//
// Usage: streamer --config configs/streamer.example.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/market-stream/internal/config"
	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/gateway"
	"github.com/rickgao/market-stream/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cmd := &cli.Command{
		Name:    "streamer",
		Usage:   "Multiplex one market-data feed connection to many consumers",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file; defaults are used when empty",
				Sources: cli.EnvVars("STREAMER_CONFIG"),
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override gateway.port",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
			&cli.StringSliceFlag{
				Name:  "watch",
				Usage: "symbols to watch from a built-in logging consumer",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("streamer failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.StreamerConfig, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if port := cmd.Int("port"); port != 0 {
		cfg.Gateway.Port = int(port)
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stdout).With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		version.Attr(),
		"config", cmd.String("config"),
		"feed", cfg.Feed.WSURL,
		"sandbox", cfg.Feed.Sandbox,
	)

	creds, err := cfg.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		logger.Warn("no feed credentials configured, connecting anonymously")
	}

	mgr, err := connection.NewManager(cfg.ManagerConfig(creds), logger, cfg.ManagerOptions()...)
	if err != nil {
		return fmt.Errorf("create stream manager: %w", err)
	}

	gw := gateway.NewServer(mgr, cfg.GatewayConfig(), logger.With("component", "gateway"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if symbols := cmd.StringSlice("watch"); len(symbols) > 0 {
		if _, err := mgr.Watch(ctx, logUpdates(logger), symbols...); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{
			srv.Shutdown(shutdownCtx),
			gw.Close(shutdownCtx),
			mgr.Shutdown(shutdownCtx),
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("streamer stopped")
	return nil
}

// logUpdates returns a callback that logs each status change at info level
// and each cache update at debug level.
func logUpdates(logger *slog.Logger) connection.Callback {
	var last connection.Status
	return func(s connection.Status) {
		if s.State != last.State || s.ErrorKind != last.ErrorKind {
			logger.Info("stream status",
				"state", s.State,
				"authenticated", s.Authenticated,
				"error_kind", s.ErrorKind,
				"attempts", s.Attempts,
			)
		}
		for _, sym := range s.Cache.Symbols() {
			t := s.Cache[sym]
			if t.Price.IsSome() {
				logger.Debug("tick", "symbol", sym, "price", t.Price.Unwrap(), "simulated", t.Provenance.Simulated)
			}
		}
		last = s
	}
}
