package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for autoforge.

To load completions:

Bash:
  $ source <(autoforge completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ autoforge completion bash > /etc/bash_completion.d/autoforge
  # macOS:
  $ autoforge completion bash > $(brew --prefix)/etc/bash_completion.d/autoforge

Zsh:
  $ source <(autoforge completion zsh)
  # To load completions for each session, execute once:
  $ autoforge completion zsh > "${fpath[1]}/_autoforge"

Fish:
  $ autoforge completion fish | source
  # To load completions for each session, execute once:
  $ autoforge completion fish > ~/.config/fish/completions/autoforge.fish

PowerShell:
  PS> autoforge completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}
