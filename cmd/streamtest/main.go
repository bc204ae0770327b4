// streamtest attaches console consumers to the feed and prints what they see.
// Usage: go run ./cmd/streamtest --config configs/streamer.example.yaml --symbols AAPL,MSFT
//
// Each --consumers copy shares the same manager, so the output also shows the
// fan-out of a single connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rickgao/market-stream/internal/config"
	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/model"
)

func main() {
	cmd := &cli.Command{
		Name:  "streamtest",
		Usage: "Print market-data updates for a set of symbols",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file; defaults are used when empty",
			},
			&cli.StringSliceFlag{
				Name:     "symbols",
				Aliases:  []string{"s"},
				Usage:    "symbols to watch",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "consumers",
				Usage: "number of consumers sharing the connection",
				Value: 1,
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "stop after this long; 0 runs until interrupted",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print every field of every tick",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.LoadAndValidate(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := cfg.Log.NewLogger(os.Stderr)

	creds, err := cfg.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	mgr, err := connection.NewManager(cfg.ManagerConfig(creds), logger, cfg.ManagerOptions()...)
	if err != nil {
		return fmt.Errorf("create stream manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	verbose := cmd.Bool("verbose")
	consumers := int(cmd.Int("consumers"))
	if consumers < 1 {
		consumers = 1
	}
	for i := 1; i <= consumers; i++ {
		if _, err := mgr.Watch(ctx, printer(i, verbose), cmd.StringSlice("symbols")...); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}

	logger.Info("streaming started - press Ctrl+C to stop", "feed", cfg.Feed.WSURL, "consumers", consumers)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

// printer returns a callback that prints status transitions and ticks that
// changed since its previous call.
func printer(id int, verbose bool) connection.Callback {
	var (
		lastState model.ConnectionStatus
		seen      = make(map[string]time.Time)
	)
	return func(s connection.Status) {
		if s.State != lastState {
			line := fmt.Sprintf("[%d] status=%s authenticated=%t", id, s.State, s.Authenticated)
			if s.LastError.IsSome() {
				line += fmt.Sprintf(" error=%q kind=%s", s.LastError.Unwrap(), s.ErrorKind)
			}
			fmt.Println(line)
			lastState = s.State
		}

		for _, sym := range s.Cache.Symbols() {
			t := s.Cache[sym]
			if prev, ok := seen[sym]; ok && !t.ReceivedAt.After(prev) {
				continue
			}
			seen[sym] = t.ReceivedAt
			fmt.Printf("[%d] %s\n", id, formatTick(t, verbose))
		}
	}
}

func formatTick(t model.Tick, verbose bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s", t.Symbol)
	if t.Price.IsSome() {
		fmt.Fprintf(&b, " price=%s", t.Price.Unwrap())
	}
	if verbose {
		if t.Bid.IsSome() {
			fmt.Fprintf(&b, " bid=%s", t.Bid.Unwrap())
		}
		if t.Ask.IsSome() {
			fmt.Fprintf(&b, " ask=%s", t.Ask.Unwrap())
		}
		if t.Volume.IsSome() {
			fmt.Fprintf(&b, " volume=%d", t.Volume.Unwrap())
		}
		fmt.Fprintf(&b, " ts=%s", t.Timestamp.Format(time.RFC3339Nano))
	}
	if t.Provenance.Simulated {
		b.WriteString(" (simulated)")
	} else if t.Provenance.Sandbox {
		b.WriteString(" (sandbox)")
	}
	return b.String()
}
