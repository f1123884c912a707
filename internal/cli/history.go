package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"cimonitor/internal/config"
	"cimonitor/internal/report"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past monitoring runs",
	Long:  `List finished monitoring runs from the run report directory, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store, err := report.NewStore(cfg.State.ReportsDir)
		if err != nil {
			return err
		}
		reports, err := store.List()
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No monitoring runs recorded yet.")
			return nil
		}
		if len(reports) > historyLimit {
			reports = reports[:historyLimit]
		}

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(reports))
		for _, r := range reports {
			outcome := "✗ failed"
			if r.Meta.Success {
				outcome = "✓ merged"
			}
			rows = append(rows, []string{
				strconv.Itoa(r.Meta.PRNumber),
				outcome,
				strconv.Itoa(r.Meta.RebaseCount),
				strconv.FormatBool(r.Meta.CIPassed),
				strconv.FormatBool(r.Meta.ReviewCompleted),
				r.Meta.FinishedAt,
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("PR", "OUTCOME", "REBASES", "CI", "REVIEWS", "FINISHED").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})

		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}
