package cli

import (
	"github.com/spf13/cobra"

	"cimonitor/internal/logging"
)

var (
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "ci-monitor <pr-number>...",
		Short: "Drive GitHub pull requests from opened to merged",
		Long: `ci-monitor supervises one or more pull requests: it rebases branches that
fall behind, waits for CI and AI reviewers (Copilot, Codex, Gemini) to finish,
deduplicates review feedback, merges when everything is green, and tears down
the associated git worktree afterward.

Logs go to stderr; a machine-readable JSON summary is printed to stdout.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         runMonitor,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)
	}
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
