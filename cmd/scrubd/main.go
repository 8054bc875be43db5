package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrub-io/scrub/internal/config"
	"github.com/scrub-io/scrub/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("scrubd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "process":
		runOnce(os.Args[2:], "process")
	case "verify":
		runOnce(os.Args[2:], "verify")
	case "run":
		runScheduled(os.Args[2:])
	case "version":
		fmt.Printf("scrubd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: scrubd <command> [options]

Commands:
  process     Run a single deletion-processing pass and exit
  verify      Run a single verification pass and exit
  run         Run both passes on their configured cron cadences
  version     Print version information

Run 'scrubd <command> --help' for more information on a command.`)
}

func loadConfig(configPath string) *config.Config {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// runOnce executes a single process or verify pass, the invocation shape an
// external job scheduler uses.
func runOnce(args []string, pass string) {
	fs := flag.NewFlagSet(pass, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
	defer cancel()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("failed to build pipeline", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	var runErr error
	switch pass {
	case "process":
		runErr = app.Sched.RunProcessOnce(ctx)
	case "verify":
		runErr = app.Sched.RunVerifyOnce(ctx)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

// runScheduled runs both passes on their cron cadences until signalled.
func runScheduled(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("failed to build pipeline", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Start(); err != nil {
		logger.Errorf("failed to start pipeline", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})

	app.Stop()
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Observability.LogLevel),
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
	})
}
