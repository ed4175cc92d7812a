package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/agentrunner"
	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/llm"
	"github.com/autoforge/autoforge/internal/model"
	"github.com/autoforge/autoforge/internal/orchestrator"
	"github.com/autoforge/autoforge/internal/reconcile"
	"github.com/autoforge/autoforge/internal/server"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/telemetry"
	"github.com/autoforge/autoforge/internal/vcs"
	"github.com/autoforge/autoforge/internal/vcs/github"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the autoforge orchestration service",
	Long:  `Start the HTTP API that ingests issue webhooks and drives the plan/implement/validate/review/publish loop to completion.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (overrides config/$PORT)")
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	modelCfg, err := config.LoadModelConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load model config: %w", err)
	}

	logger := telemetry.NewLogger(verbose)

	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	vcsImpl, err := newVCS(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize VCS client: %w", err)
	}

	completer, err := newCompleter()
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	metrics, err := newMetrics(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics exporter: %w", err)
	}

	bus := event.NewBus(logger)
	router := model.New(modelCfg, st)
	ledger := session.New(st)
	runner := agentrunner.New(router, completer, ledger, bus)
	runner.Metrics = metrics
	runner.Logger = logger

	timeout, err := cfg.Defaults.ParsedTimeout()
	if err != nil {
		return fmt.Errorf("invalid defaults.timeout: %w", err)
	}
	orch := orchestrator.New(st, ledger, runner, router, vcsImpl, bus, cfg.Defaults.MaxParallel, cfg.Defaults.MaxAttempts, int(timeout.Milliseconds()))
	orch.Metrics = metrics

	loop := reconcile.New(st, ledger, vcsImpl, bus, logger, 0)
	loop.Metrics = metrics

	srv := server.New(cfg, st, orch, vcsImpl, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	loop.Start(ctx)
	defer loop.Stop()

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", serveHost, port)
	return srv.Start(ctx, addr)
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newVCS(ctx context.Context, cfg *config.Config) (vcs.VCS, error) {
	token := cfg.VCS.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("no GitHub token configured (set vcs.token or GITHUB_TOKEN)")
	}
	return github.NewClient(ctx, token), nil
}

func newCompleter() (llm.Completer, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	base := llm.NewAnthropicClient(apiKey)
	return llm.NewRetryingCompleter(base, llm.DefaultRetryConfig()), nil
}

// newMetrics builds the orchestration metrics collector, attaching a
// JSONL exporter when cfg.Metrics.ExportPath is set.
func newMetrics(cfg *config.Config) (*telemetry.Metrics, error) {
	metrics := telemetry.NewMetrics()
	if cfg.Metrics.ExportPath == "" {
		return metrics, nil
	}
	exporter, err := telemetry.NewJSONFileExporter(cfg.Metrics.ExportPath)
	if err != nil {
		return nil, err
	}
	metrics.SetExporter(exporter)
	return metrics, nil
}
