package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts across the memory store",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Items:")
	if len(stats.ItemsByStatus) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range stats.ItemsByStatus {
		fmt.Printf("  %-12s %d\n", s.Status, s.Count)
	}

	fmt.Println("\nContexts:")
	if len(stats.Contexts) == 0 {
		fmt.Println("  (none)")
	}
	for _, c := range stats.Contexts {
		kind := "observations"
		switch {
		case c.IsEpisode:
			kind = "episodes"
		case strings.HasSuffix(c.ContextType, "_summary"):
			kind = "rollups"
		}
		fmt.Printf("  %-16s %-13s %d\n", c.ContextType, kind, c.Count)
	}

	fmt.Printf("\nCached artifacts: %d\n", stats.Artifacts)

	fmt.Println("\nTasks:")
	if len(stats.TasksByStatus) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range stats.TasksByStatus {
		fmt.Printf("  %-12s %d\n", s.Status, s.Count)
	}
	return nil
}
