// Package main runs the TaskPilot server: a websocket service that
// turns natural-language goals into planned, observable browser
// automation runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/taskpilot/pkg/browser"
	"github.com/entrhq/taskpilot/pkg/config"
	"github.com/entrhq/taskpilot/pkg/llm/openai"
	"github.com/entrhq/taskpilot/pkg/logging"
	"github.com/entrhq/taskpilot/pkg/planner"
	"github.com/entrhq/taskpilot/pkg/safety"
	"github.com/entrhq/taskpilot/pkg/server"
	"github.com/entrhq/taskpilot/pkg/session"
)

const version = "0.1.0"

// CLIFlags holds the command-line overrides applied on top of the
// config file and environment.
type CLIFlags struct {
	ConfigFile  string
	Addr        string
	Model       string
	Headless    bool
	ShowVersion bool
}

func main() {
	flags := parseFlags()
	if flags.ShowVersion {
		fmt.Printf("TaskPilot v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		cancel()
		log.Printf("Server failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&flags.Addr, "addr", "", "Listen address (overrides config)")
	flag.StringVar(&flags.Model, "model", "", "LLM model to use (overrides config)")
	flag.BoolVar(&flags.Headless, "headless", false, "Run browsers headless")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "TaskPilot - Goal-Driven Browser Automation Server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: taskpilot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run with defaults (localhost:8000)\n")
		fmt.Fprintf(os.Stderr, "  taskpilot\n\n")
		fmt.Fprintf(os.Stderr, "  # Run with config file, headless browsers\n")
		fmt.Fprintf(os.Stderr, "  taskpilot -config taskpilot.yaml -headless\n\n")
	}

	flag.Parse()
	return flags
}

func run(ctx context.Context, flags *CLIFlags) error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, flags)

	logger, err := logging.NewLogger("main")
	if err != nil {
		log.Printf("file logging unavailable, continuing on stderr: %v", err)
	}
	defer logger.Close()
	logger.Infof("TaskPilot v%s starting", version)

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured (set OPENAI_API_KEY or llm.api_key)")
	}

	provider, err := openai.NewProvider(cfg.LLM.APIKey,
		openai.WithModel(cfg.LLM.Model),
		openai.WithBaseURL(cfg.LLM.BaseURL),
	)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	pl := planner.New(provider,
		planner.WithMaxSteps(cfg.Engine.MaxSteps),
		planner.WithFallback(cfg.Engine.PlannerFallback),
	)

	guard, err := safety.NewGuard(cfg.Safety.BlockedKeywords, cfg.Safety.BlockedURLPatterns, cfg.Safety.Enabled)
	if err != nil {
		return fmt.Errorf("failed to build safety guard: %w", err)
	}

	browsers := browser.NewManager()
	logger.Infof("initializing browser runtime")
	if err := browsers.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser runtime: %w", err)
	}
	defer func() {
		if err := browsers.Shutdown(); err != nil {
			logger.Errorf("browser shutdown: %v", err)
		}
	}()

	opts := session.Options{
		Browser: browser.SessionOptions{
			Headless: cfg.Browser.Headless,
			Timeout:  cfg.Browser.TimeoutMs,
			SlowMo:   cfg.Browser.SlowMoMs,
		},
		FrameInterval:      time.Duration(cfg.Engine.FrameIntervalMs) * time.Millisecond,
		LoginWait:          time.Duration(cfg.Engine.LoginWaitMs) * time.Millisecond,
		CredentialsTimeout: time.Duration(cfg.Engine.CredentialsTimeoutMs) * time.Millisecond,
		ContinueOnFailure:  cfg.Engine.ContinueOnFailure,
		Guard:              guard,
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, pl, browsers, opts)

	fmt.Printf("TaskPilot listening on %s (model: %s)\n", cfg.Server.Addr, cfg.LLM.Model)
	return srv.Start(ctx)
}

func applyFlags(cfg *config.Config, flags *CLIFlags) {
	if flags.Addr != "" {
		cfg.Server.Addr = flags.Addr
	}
	if flags.Model != "" {
		cfg.LLM.Model = flags.Model
	}
	if flags.Headless {
		cfg.Browser.Headless = true
	}
}
