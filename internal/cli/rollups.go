package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/rollup"
	"github.com/spf13/cobra"
)

var (
	rollupUser     string
	rollupDate     string
	rollupTZOffset int
	rollupForce    bool
)

var rollupsCmd = &cobra.Command{
	Use:   "rollups",
	Short: "Rebuild daily or weekly summaries",
	Long: `Rebuild the daily or weekly summary for a user-local date.

User-edited summaries keep their text unless --force is given, which clears
the edit lock and regenerates. The weekly date is normalized to its Monday.

Examples:
  omnictl rollups daily --date 2026-08-20
  omnictl rollups daily --date 2026-08-20 --force
  omnictl rollups weekly --date 2026-08-20 --tz-offset -480`,
}

var rollupsDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Rebuild one day's summary",
	RunE:  runRollupDaily,
}

var rollupsWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Rebuild one week's summary",
	RunE:  runRollupWeekly,
}

func init() {
	rollupsCmd.PersistentFlags().StringVarP(&rollupUser, "user", "u", "", "owning user (default from config)")
	rollupsCmd.PersistentFlags().StringVar(&rollupDate, "date", "", "local date (2006-01-02), default today")
	rollupsCmd.PersistentFlags().IntVar(&rollupTZOffset, "tz-offset", 0, "timezone offset in minutes for new summaries")
	rollupsCmd.PersistentFlags().BoolVar(&rollupForce, "force", false, "regenerate even user-edited summaries")

	rollupsCmd.AddCommand(rollupsDailyCmd)
	rollupsCmd.AddCommand(rollupsWeeklyCmd)
}

// rollupDateOrToday resolves the --date flag against the offset-local today.
func rollupDateOrToday() string {
	if rollupDate != "" {
		return rollupDate
	}
	zone := time.FixedZone("local", rollupTZOffset*60)
	return time.Now().In(zone).Format("2006-01-02")
}

func runRollupDaily(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	index, err := getIndex()
	if err != nil {
		return err
	}
	agg := rollup.NewAggregator(dbClient, index, cfg, nil)

	date := rollupDateOrToday()
	if err := agg.Daily(ctx, userOrDefault(rollupUser), date, rollupTZOffset, rollupForce); err != nil {
		return fmt.Errorf("daily rollup: %w", err)
	}
	fmt.Printf("Daily summary rebuilt for %s\n", date)
	return nil
}

func runRollupWeekly(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	index, err := getIndex()
	if err != nil {
		return err
	}
	agg := rollup.NewAggregator(dbClient, index, cfg, nil)

	weekStart, err := rollup.WeekStart(rollupDateOrToday())
	if err != nil {
		return err
	}
	if err := agg.Weekly(ctx, userOrDefault(rollupUser), weekStart, rollupTZOffset, rollupForce); err != nil {
		return fmt.Errorf("weekly rollup: %w", err)
	}
	fmt.Printf("Weekly summary rebuilt for week starting %s\n", weekStart)
	return nil
}
