package cli

import (
	"context"
	"fmt"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/episode"
	"github.com/gozhiyuan/omnimemory-sub000/internal/rollup"
	"github.com/spf13/cobra"
)

var (
	reconcileUser string
	reconcileDays int
	reconcileFrom string
	reconcileTo   string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge episodes that concurrent processing split",
	Long: `Sweep a time window for episodes that should have merged but were
formed separately by concurrent workers, and fold them together.

The sweep is idempotent: re-running it over a clean window reports no
action. Daily summaries touched by a fold are rebuilt.

Examples:
  omnictl reconcile --days 1
  omnictl reconcile --from 2026-08-18 --to 2026-08-20`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVarP(&reconcileUser, "user", "u", "", "owning user (default from config)")
	reconcileCmd.Flags().IntVar(&reconcileDays, "days", 1, "look back this many days")
	reconcileCmd.Flags().StringVar(&reconcileFrom, "from", "", "window start (2006-01-02), overrides --days")
	reconcileCmd.Flags().StringVar(&reconcileTo, "to", "", "window end (2006-01-02), default now")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	from, to, err := windowFromFlags(reconcileDays, reconcileFrom, reconcileTo)
	if err != nil {
		return err
	}

	index, err := getIndex()
	if err != nil {
		return err
	}
	providers := enrich.New(cfg, nil, nil)
	engine := episode.NewEngine(episode.Deps{
		Store:      dbClient,
		Index:      index,
		Cache:      artifact.NewCache(dbClient, nil),
		Summarizer: providers.Summary,
		Config:     cfg,
	})

	userID := userOrDefault(reconcileUser)
	outcomes, days, err := engine.Reconcile(ctx, userID, from, to)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if len(outcomes) == 0 {
		fmt.Println("No action: no split episodes in the window.")
		return nil
	}

	fmt.Printf("Folded %d episodes:\n", len(outcomes))
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case episode.OutcomeMerged:
			fmt.Printf("  merged %s → %s\n", outcome.From, outcome.Into)
		default:
			fmt.Printf("  %s %s\n", outcome.Kind, outcome.Into)
		}
	}

	// Rebuild the summaries the folds touched.
	agg := rollup.NewAggregator(dbClient, index, cfg, nil)
	for _, day := range days {
		if err := agg.Daily(ctx, userID, day.Date, day.TZOffsetMinutes, false); err != nil {
			return fmt.Errorf("rollup %s: %w", day.Date, err)
		}
	}
	fmt.Printf("Rebuilt %d daily summaries.\n", len(days))
	return nil
}
