package cli

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment and dependencies",
	Long:  "Validate that all required credentials, configuration, and tools are properly set up.",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("autoforge doctor — checking your environment")
	fmt.Println()
	allOK := true

	fmt.Printf("  Go version: %s", runtime.Version())
	fmt.Println(" ✓")

	fmt.Printf("  Platform:   %s/%s", runtime.GOOS, runtime.GOARCH)
	fmt.Println(" ✓")

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		fmt.Printf("  Anthropic key: set (***%s)", apiKey[max(0, len(apiKey)-4):])
		fmt.Println(" ✓")
	} else {
		fmt.Println("  Anthropic key: NOT SET ✗")
		fmt.Println("    → Set ANTHROPIC_API_KEY")
		allOK = false
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		if c, err := config.Load("."); err == nil {
			token = c.VCS.Token
		}
	}
	if token != "" {
		fmt.Println("  GitHub token:  set ✓")
	} else {
		fmt.Println("  GitHub token:  NOT SET ✗")
		fmt.Println("    → Set GITHUB_TOKEN or vcs.token in autoforge.yaml")
		allOK = false
	}

	cfg, err := config.Load(".")
	if err != nil {
		fmt.Printf("  Config:        FAILED (%s) ✗\n", err)
		allOK = false
	} else {
		fmt.Printf("  Config:        %s v%s", cfg.Name, cfg.Version)
		fmt.Println(" ✓")

		if cfg.Webhook.TriggerLabel == "" {
			fmt.Println("  Trigger label: NOT SET ✗")
			allOK = false
		} else {
			fmt.Printf("  Trigger label: %q", cfg.Webhook.TriggerLabel)
			fmt.Println(" ✓")
		}

		switch cfg.Store.Driver {
		case "", "memory":
			fmt.Println("  Store:         memory (no durability across restarts) ✓")
		case "sqlite":
			fmt.Printf("  Store:         sqlite (%s)", cfg.Store.Path)
			fmt.Println(" ✓")
		default:
			fmt.Printf("  Store:         unknown driver %q ✗\n", cfg.Store.Driver)
			allOK = false
		}

		if cfg.Metrics.ExportPath != "" {
			fmt.Printf("  Metrics:       exporting to %s ✓\n", cfg.Metrics.ExportPath)
		} else {
			fmt.Println("  Metrics:       in-memory only (set metrics.export_path to persist)")
		}
	}

	if _, err := config.LoadModelConfig("."); err != nil {
		fmt.Printf("  Model config:  FAILED (%s) ✗\n", err)
		allOK = false
	} else {
		fmt.Println("  Model config:  OK ✓")
	}

	if _, err := exec.LookPath("git"); err == nil {
		fmt.Println("  Git:           available ✓")
	} else {
		fmt.Println("  Git:           NOT FOUND ✗")
		allOK = false
	}

	fmt.Println()
	if allOK {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See above for details.")
	}

	return nil
}
