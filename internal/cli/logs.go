package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/store"
)

var (
	logsFollow bool
	logsLines  int
)

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "View a task's session memory progress log",
	Long: `View the append-only progress log of a task's Session Memory.

Examples:
  autoforge logs t-123           # Show recent progress entries
  autoforge logs t-123 --follow  # Poll for new entries`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "poll for new entries")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of recent entries to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	taskID := args[0]

	total, err := showLogs(cmd, st, taskID, 0)
	if err != nil {
		return err
	}

	if !logsFollow {
		return nil
	}

	fmt.Println("Following... (Ctrl+C to stop)")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		n, err := showLogs(cmd, st, taskID, total)
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// showLogs prints progress entries after the first `skip` and returns how
// many new entries it found (not necessarily how many it printed, since
// the first call may truncate to the most recent logsLines).
func showLogs(cmd *cobra.Command, st store.Store, taskID string, skip int) (int, error) {
	sm, err := st.GetSessionMemory(cmd.Context(), taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session memory: %w", err)
	}

	entries := sm.Progress
	if skip >= len(entries) {
		return 0, nil
	}
	fresh := len(entries) - skip
	entries = entries[skip:]
	if skip == 0 && logsLines > 0 && len(entries) > logsLines {
		entries = entries[len(entries)-logsLines:]
	}

	for _, p := range entries {
		fmt.Printf("[%s] %s/%s attempt %d: %s\n", p.Timestamp.Format(time.RFC3339), p.Phase, p.Kind, p.Attempt, p.Summary)
	}
	return fresh, nil
}
