// Command deckhand runs the analytical report pipeline: it analyzes an
// objective across configurable dimensions, pauses for approval, and
// generates a deck, a summary table, and a markdown narrative.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/parchment-ai/deckhand/pkg/artifact"
	"github.com/parchment-ai/deckhand/pkg/checkpoint"
	"github.com/parchment-ai/deckhand/pkg/config"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/logging"
	"github.com/parchment-ai/deckhand/pkg/model"
	"github.com/parchment-ai/deckhand/pkg/orchestrator"
	"github.com/parchment-ai/deckhand/pkg/progress"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, os.Args[2:])
	case "resume":
		err = cmdResume(ctx, os.Args[2:])
	case "checkpoints":
		err = cmdCheckpoints(os.Args[2:])
	case "teardown":
		err = cmdTeardown(ctx, os.Args[2:])
	case "version":
		fmt.Printf("deckhand %s (%s, built %s)\n", version, commit, buildDate)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`deckhand - analytical report pipeline

Usage:
  deckhand run -objective "..." [-session ID] [-dimensions a,b,c] [-config FILE]
  deckhand resume -session ID [-input "..."] [-config FILE]
  deckhand checkpoints [-config FILE]
  deckhand teardown -session ID [-config FILE]
  deckhand version
`)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// buildController assembles the production controller from configuration.
// The returned cleanup closes the store, logger, hub, and tracer.
func buildController(cfg *config.Config, sessionID string) (*orchestrator.Controller, func(), error) {
	var store artifact.Store
	var err error
	if cfg.Storage.ArtifactDB != "" {
		store, err = artifact.OpenSQLite(cfg.Storage.ArtifactDB)
		if err != nil {
			return nil, nil, err
		}
	} else {
		store = artifact.NewMemoryStore()
	}

	logDir := cfg.Logging.Dir
	if logDir == "" {
		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			logDir = filepath.Join(home, ".deckhand", "logs")
		} else {
			logDir = "logs"
		}
	}
	if sessionID == "" {
		sessionID = "cli"
	}
	logger, err := logging.NewLogger(logDir, sessionID)
	if err != nil {
		return nil, nil, err
	}
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	hub := telemetry.NewHub()
	tracer, err := telemetry.NewTracerProvider("deckhand")
	if err != nil {
		return nil, nil, err
	}

	client := model.NewClientFromConfig(
		cfg.Model.APIKey,
		cfg.Model.Name,
		cfg.Model.RequestsPerMin,
		cfg.Model.MaxAttempts,
		cfg.Model.TokenBudget,
	)

	ctrl, err := orchestrator.NewController(orchestrator.ControllerDeps{
		Config:      cfg,
		Client:      client,
		Store:       store,
		Checkpoints: checkpoint.NewStore(cfg.Checkpoints.Dir),
		Observer:    progress.NewHubObserver(progress.NewMemoryObserver(), hub),
		Logger:      logger,
		Hub:         hub,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		hub.Close()
		_ = tracer.Shutdown(context.Background())
		_ = logger.Close()
		_ = store.Close()
	}
	return ctrl, cleanup, nil
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	objective := fs.String("objective", "", "what the report should answer (required)")
	sessionID := fs.String("session", "", "session identifier (generated if empty)")
	dimensions := fs.String("dimensions", "", "comma-separated analysis dimensions (default: all)")
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *objective == "" {
		return fmt.Errorf("run requires -objective")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctrl, cleanup, err := buildController(cfg, *sessionID)
	if err != nil {
		return err
	}
	defer cleanup()

	var dims []string
	if *dimensions != "" {
		for _, d := range strings.Split(*dimensions, ",") {
			if d = strings.TrimSpace(d); d != "" {
				dims = append(dims, d)
			}
		}
	}

	res, err := ctrl.Run(ctx, *sessionID, *objective, dims)
	if err != nil {
		return err
	}
	printResult(ctrl, res)
	return nil
}

func cmdResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	sessionID := fs.String("session", "", "session identifier (required)")
	input := fs.String("input", "", "approval or guidance text to feed the session")
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("resume requires -session")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctrl, cleanup, err := buildController(cfg, *sessionID)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ctrl.Resume(ctx, *sessionID, *input)
	if err != nil {
		return err
	}
	printResult(ctrl, res)
	return nil
}

func cmdCheckpoints(args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.NewStore(cfg.Checkpoints.Dir).List()
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Println("no paused sessions")
		return nil
	}
	for _, cp := range checkpoints {
		fmt.Println(cp.FormatCompact())
	}
	return nil
}

func cmdTeardown(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("teardown", flag.ExitOnError)
	sessionID := fs.String("session", "", "session identifier (required)")
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("teardown requires -session")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctrl, cleanup, err := buildController(cfg, *sessionID)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ctrl.Teardown(ctx, *sessionID); err != nil {
		return err
	}
	fmt.Printf("session %s cleaned up\n", *sessionID)
	return nil
}

func printResult(ctrl *orchestrator.Controller, res *graph.Result) {
	st := res.State

	if info := ctrl.Progress(st); info.Total > 0 {
		fmt.Println(progress.RenderCompact(info))
	}

	if res.Paused {
		fmt.Printf("\nsession %s paused before %q\n", st.SessionID, res.PendingNode)
		if st.PendingPrompt != "" {
			fmt.Println(st.PendingPrompt)
		}
		fmt.Printf("\ncontinue with: deckhand resume -session %s -input \"approved\"\n", st.SessionID)
		return
	}

	fmt.Printf("\nsession %s finished in %d steps\n", st.SessionID, res.Steps)
	if len(st.Messages) > 0 {
		last := st.Messages[len(st.Messages)-1]
		if last.Role == "assistant" {
			fmt.Println(last.Content)
		}
	}
	if st.DeckPath != "" {
		fmt.Println("deck:   ", st.DeckPath)
	}
	if st.TablePath != "" {
		fmt.Println("table:  ", st.TablePath)
	}
	if st.SummaryPath != "" {
		fmt.Println("report: ", st.SummaryPath)
	}
}
