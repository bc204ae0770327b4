// mockfeed serves a local upstream feed that streams random-walk ticks for
// whatever symbols its clients subscribe to.
//
// Usage: mockfeed --port 8765 --api-key demo-key
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/market-stream/internal/auth"
	"github.com/rickgao/market-stream/internal/config"
	"github.com/rickgao/market-stream/internal/feedtest"
	"github.com/rickgao/market-stream/internal/model"
	"github.com/rickgao/market-stream/internal/simulator"
)

func main() {
	cmd := &cli.Command{
		Name:  "mockfeed",
		Usage: "Serve a local market-data feed with simulated ticks",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port",
				Value: 8765,
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "api key clients must present; empty accepts anyone",
				Sources: cli.EnvVars("MOCKFEED_API_KEY"),
			},
			&cli.StringFlag{
				Name:  "verify-key",
				Usage: "private key PEM whose public half verifies signed handshakes",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "time between tick rounds",
				Value: 500 * time.Millisecond,
			},
			&cli.FloatFlag{
				Name:  "price",
				Usage: "starting price of the preferred symbol",
				Value: 100,
			},
			&cli.StringFlag{
				Name:  "symbol",
				Usage: "preferred symbol",
				Value: config.DefaultSimSymbol,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("mockfeed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := config.LogConfig{Level: cmd.String("log-level"), Format: "text"}.NewLogger(os.Stdout)

	var pub *rsa.PublicKey
	if path := cmd.String("verify-key"); path != "" {
		key, err := auth.LoadPrivateKey(path)
		if err != nil {
			return fmt.Errorf("load verify key: %w", err)
		}
		pub = &key.PublicKey
	}

	feed := feedtest.New(feedtest.Options{
		APIKey:    cmd.String("api-key"),
		PublicKey: pub,
	}, logger.With("component", "feed"))

	mux := http.NewServeMux()
	mux.Handle("/v1/stream", feed)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cmd.Int("port")),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	gen := simulator.New(simulator.Config{
		Symbol:       cmd.String("symbol"),
		InitialPrice: decimal.NewFromFloat(cmd.Float("price")),
		Seed:         time.Now().UnixNano(),
	}, nil, nil, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("mock feed listening", "addr", srv.Addr, "path", "/v1/stream")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cmd.Duration("interval"))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}

			symbols := feed.Subscribed()
			if len(symbols) == 0 {
				continue
			}
			ticks := make([]model.Tick, 0, len(symbols))
			for _, sym := range symbols {
				ticks = append(ticks, gen.Tick(sym))
			}
			if err := feed.PublishSubscribed(ticks...); err != nil {
				logger.Warn("publish failed", "error", err)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		feed.Drop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
