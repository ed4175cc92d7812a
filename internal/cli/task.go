package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/agentrunner"
	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/model"
	"github.com/autoforge/autoforge/internal/orchestrator"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/telemetry"
)

var taskListLimit int

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and drive tasks directly against the store",
	Long:  `Commands for listing, inspecting, and manually resuming tasks without going through the HTTP API.`,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List top-level tasks, newest first",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its session memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskProcessCmd = &cobra.Command{
	Use:   "process <id>",
	Short: "Resume a task's state machine and block until it reaches a resting state",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskProcess,
}

func init() {
	taskListCmd.Flags().IntVarP(&taskListLimit, "limit", "n", 20, "maximum tasks to show")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskProcessCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	tasks, err := st.ListTasks(cmd.Context(), taskListLimit)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	for _, t := range tasks {
		fmt.Printf("%s  %-16s  %s#%d  attempt %d/%d\n", t.ID, t.Status, t.Repo, t.IssueNumber, t.AttemptCount, t.MaxAttempts)
		if t.PRURL != "" {
			fmt.Printf("    PR: %s\n", t.PRURL)
		}
		if t.LastError != "" {
			fmt.Printf("    Last error: %s\n", t.LastError)
		}
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	id := args[0]
	task, err := st.GetTask(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("task not found: %w", err)
	}

	fmt.Printf("Task %s\n", task.ID)
	fmt.Printf("  Repo:       %s#%d\n", task.Repo, task.IssueNumber)
	fmt.Printf("  Status:     %s\n", task.Status)
	fmt.Printf("  Attempts:   %d/%d\n", task.AttemptCount, task.MaxAttempts)
	fmt.Printf("  Complexity: %s\n", task.EstimatedComplexity)
	if task.BranchName != "" {
		fmt.Printf("  Branch:     %s\n", task.BranchName)
	}
	if task.PRURL != "" {
		fmt.Printf("  PR:         %s\n", task.PRURL)
	}
	if task.LastError != "" {
		fmt.Printf("  Last error: %s\n", task.LastError)
	}

	sm, err := st.GetSessionMemory(cmd.Context(), id)
	if err != nil {
		return nil
	}
	fmt.Println("\n  Progress:")
	for _, p := range sm.Progress {
		fmt.Printf("    [%s] %s/%s attempt %d: %s\n", p.Timestamp.Format("15:04:05"), p.Phase, p.Kind, p.Attempt, p.Summary)
	}
	return nil
}

func runTaskProcess(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("failed to open store: %w", err)
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

	id := args[0]
	if err := orch.Process(context.Background(), id); err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	task, err := st.GetTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s\n", task.ID, task.Status)
	return nil
}
