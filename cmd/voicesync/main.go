// Command voicesync is the VoiceSync terminal voice chat tool. One binary
// carries both sides of the system:
//
//	voicesync server [-p 3000] [-H 0.0.0.0]        run the signaling server
//	voicesync start [-s url] [-u name]             create a room, print its key
//	voicesync join <roomKey> [-s url] [-u name]    join an existing room
//
// The VOICESYNC_SERVER environment variable provides the default signaling
// URL; -s overrides it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/voicesync/voicesync/internal/config"
	"github.com/voicesync/voicesync/internal/observe"
	"github.com/voicesync/voicesync/internal/signaling"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "server":
		return runServer(args[1:])
	case "start":
		return runStart(args[1:])
	case "join":
		return runJoin(args[1:])
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "voicesync: unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage:
  voicesync server [-p 3000] [-H 0.0.0.0] [-config file]
  voicesync start [-s url] [-u name] [-config file]
  voicesync join <roomKey> [-s url] [-u name] [-config file]

VOICESYNC_SERVER sets the default signaling URL for start and join.
`)
}

// ── server ────────────────────────────────────────────────────────────────────

func runServer(args []string) int {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	port := fs.Int("p", 3000, "port to listen on")
	host := fs.String("H", "0.0.0.0", "interface to bind")
	configPath := fs.String("config", "", "path to the YAML configuration file")
	fs.Parse(args)

	cfg, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if *configPath == "" || explicit["p"] || explicit["H"] {
		cfg.Server.ListenAddr = net.JoinHostPort(*host, strconv.Itoa(*port))
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicesync"})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("metrics init failed", "err", err)
		return 1
	}

	srv := signaling.NewServer(cfg.Server, signaling.NewState(), slog.Default(), metrics)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── shared helpers ────────────────────────────────────────────────────────────

// loadConfig reads the config file when one is named and falls back to
// defaults otherwise.
func loadConfig(path string) (*config.Config, bool) {
	if path == "" {
		return config.Default(), true
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicesync: %v\n", err)
		return nil, false
	}
	return cfg, true
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
