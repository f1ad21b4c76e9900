// main implements the CLI for the MCP bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kagenti/mcp-bridge/internal/bridge"
	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/kagenti/mcp-bridge/internal/helper"
	"github.com/kagenti/mcp-bridge/internal/server"
)

// logging goes to stderr: in helper mode stdout carries IPC frames
var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

func main() {
	var (
		helperMode   bool
		settingsFile string
		loglevel     int
		logFormat    string
	)
	flag.BoolVar(&helperMode, "helper", false, "run as a service helper (spawned by the bridge, not for direct use)")
	flag.StringVar(&settingsFile, "settings", "", "optional settings file, watched for changes")
	flag.IntVar(
		&loglevel,
		"log-level",
		int(slog.LevelInfo),
		"set the log level 0=info, 4=warn, 8=error and -4=debug",
	)
	flag.StringVar(&logFormat, "log-format", "txt", "switch to json logs with --log-format=json")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.Level(loglevel))
	opts := &slog.HandlerOptions{Level: slog.Level(loglevel)}
	if logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	if helperMode {
		os.Exit(helper.Run(logger))
	}

	store, err := config.Load(settingsFile, logger)
	if err != nil {
		logger.Error("load settings", "error", err)
		os.Exit(1)
	}
	if err := applyArgs(store, flag.Args()); err != nil {
		logger.Error("bad arguments", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(store, nil, logger)
	srv := server.New(b, store.Get, logger)
	if _, err := srv.Listen(); err != nil {
		logger.Error("bind listener", "error", err)
		os.Exit(1)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Serve(gctx) })
	group.Go(func() error { return b.RunSweeper(gctx) })

	err = group.Wait()
	b.Close()
	if err != nil {
		logger.Error("bridge failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}

// applyArgs maps the positional arguments [port] [default-command]
// [default-args...] onto the settings.
func applyArgs(store *config.Store, args []string) error {
	if len(args) == 0 {
		return nil
	}
	s := store.Get()
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	s.Port = port
	if len(args) > 1 {
		s.DefaultCommand = args[1]
	}
	if len(args) > 2 {
		s.DefaultArgs = args[2:]
	}
	store.Set(s)
	return nil
}
