package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tiltlevel/internal/config"
	"tiltlevel/internal/web"
)

func main() {
	var (
		configPath string
		logLevel   string
		summary    string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")
	flag.StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	flag.StringVar(&summary, "log-summary", "", "Print a summary of a recorded report log and exit")
	flag.Parse()

	if summary != "" {
		if err := printLogSummary(os.Stdout, summary); err != nil {
			fmt.Fprintf(os.Stderr, "log summary failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
			os.Exit(1)
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logs := web.NewLogBuffer(cfg.Logging.BufferLines)
	logger := setupLogger(level, os.Stdout, logs)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("tiltlevel starting", "config", configPath, "device", cfg.Device.Backend,
		"interval", cfg.Scheduler.Interval, "settings", cfg.Settings.Backend)

	a, err := newApp(ctx, cfg, logger, logs)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("tiltlevel stopping")
	if err := a.Close(); err != nil {
		logger.Warn("shutdown errors", "error", err)
	}
}
