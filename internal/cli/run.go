package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cimonitor/internal/config"
	"cimonitor/internal/event"
	"cimonitor/internal/gh"
	"cimonitor/internal/monitor"
	"cimonitor/internal/pr"
	"cimonitor/internal/report"
	"cimonitor/internal/review"
	"cimonitor/internal/state"
	"cimonitor/internal/worktree"
)

var (
	timeoutMinutes int
	earlyExit      bool
	sessionIDFlag  string
)

func init() {
	rootCmd.Flags().IntVar(&timeoutMinutes, "timeout", 0, "Overall timeout in minutes (0 uses the configured default)")
	rootCmd.Flags().BoolVar(&earlyExit, "early-exit", false, "Return as soon as any review comment appears (single PR only)")
	rootCmd.Flags().StringVar(&sessionIDFlag, "session-id", "", "Session UUID for resumable state (generated when omitted)")
}

// multiPRSummary is the stdout payload of a multi-PR run.
type multiPRSummary struct {
	Mode string                 `json:"mode"`
	PRs  []monitor.MultiPREvent `json:"prs"`
}

func runMonitor(cmd *cobra.Command, args []string) error {
	prNumbers, err := pr.ValidatePRNumbers(args)
	if err != nil {
		return err
	}
	if earlyExit && len(prNumbers) > 1 {
		return fmt.Errorf("--early-exit applies to a single PR, got %d", len(prNumbers))
	}

	sessionID := sessionIDFlag
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("--session-id must be a valid UUID: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if timeoutMinutes > 0 {
		cfg.Monitor.TimeoutMinutes = timeoutMinutes
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := gh.NewClient(cfg.GitHub, cfg.RateLimit)
	limiter := gh.NewRateLimiter(client, cfg.RateLimit)
	client.OnGraphQLRateLimited(limiter.NoteGraphQLRateLimited)

	store, err := state.NewStore(cfg.State.Dir)
	if err != nil {
		return err
	}
	bus := event.NewBus(cfg.EventLog)
	defer bus.Close()

	analyzer := review.NewAnalyzer(client, limiter, cfg.Review)
	ops := pr.NewOps(client, cfg.Monitor)

	mon := monitor.New(ops, analyzer, store, bus, limiter, cfg.Monitor)
	mon.SessionID = sessionID
	mon.EarlyExit = earlyExit

	reports, err := report.NewStore(cfg.State.ReportsDir)
	if err != nil {
		slog.Warn("run reports disabled", "error", err)
		reports = nil
	}

	if len(prNumbers) == 1 {
		return runSingle(ctx, cmd, mon, reports, prNumbers[0], sessionID)
	}
	return runMulti(ctx, cmd, mon, prNumbers)
}

func runSingle(ctx context.Context, cmd *cobra.Command, mon *monitor.Monitor,
	reports *report.Store, prNumber int, sessionID string) error {

	res := mon.MonitorPR(ctx, prNumber)

	if reports != nil {
		if err := reports.Write(prNumber, sessionID, res); err != nil {
			slog.Warn("could not write run report", "pr", prNumber, "error", err)
		}
	}
	if res.Success {
		cleanupWorktree(ctx)
	}

	printJSON(cmd, res)
	if !res.Success {
		return fmt.Errorf("PR #%d: %s", prNumber, res.Message)
	}
	return nil
}

func runMulti(ctx context.Context, cmd *cobra.Command, mon *monitor.Monitor, prNumbers []int) error {
	events := mon.MonitorMultiplePRs(ctx, prNumbers)

	printJSON(cmd, multiPRSummary{Mode: "multi-pr", PRs: events})

	failed := 0
	for _, ev := range events {
		if ev.Event != "merged" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d PRs did not merge", failed, len(prNumbers))
	}
	return nil
}

// cleanupWorktree tears down the current worktree after a merge, when the
// process is running inside one. Best effort: a failure here never turns a
// merged PR into a failed run.
func cleanupWorktree(ctx context.Context) {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	mgr := worktree.NewManager()
	inside, err := mgr.InsideWorktree(ctx, wd)
	if err != nil || !inside {
		return
	}
	// Leave the doomed directory before removing it.
	if err := os.Chdir(wd + "/.."); err != nil {
		slog.Warn("could not leave worktree before cleanup", "error", err)
		return
	}
	if err := mgr.Cleanup(ctx, wd); err != nil {
		slog.Warn("worktree cleanup failed", "dir", wd, "error", err)
	}
}

// printJSON writes the machine-readable summary to stdout. Stdout carries
// only this payload; all logging goes to stderr.
func printJSON(cmd *cobra.Command, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("could not marshal summary", "error", err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}
