package cli

import (
	"context"
	"fmt"

	"github.com/gozhiyuan/omnimemory-sub000/internal/service"
	"github.com/spf13/cobra"
)

var (
	searchUser     string
	searchType     string
	searchEpisodes bool
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the memory graph",
	Long: `Semantic search over observations, episodes, and summaries.

Hits are ranked by vector similarity decayed with a configured half life,
so recent memories outrank equally similar old ones.

Examples:
  omnictl search "making coffee"
  omnictl search "dinner with friends" --episodes
  omnictl search "receipts" --type knowledge -n 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchUser, "user", "u", "", "owning user (default from config)")
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "restrict to one context type")
	searchCmd.Flags().BoolVar(&searchEpisodes, "episodes", false, "episodes only")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "max results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	index, err := getIndex()
	if err != nil {
		return err
	}
	svc := service.NewSearchService(index, cfg, nil, nil)

	results, err := svc.Search(ctx, args[0], service.SearchOptions{
		UserID:       userOrDefault(searchUser),
		ContextType:  searchType,
		EpisodesOnly: searchEpisodes,
		Limit:        searchLimit,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Results (%d):\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%d. [%s] %s (score %.3f)\n", i+1, r.ContextType, r.Title, r.Score)
		if verbose {
			fmt.Printf("   similarity %.3f  %s – %s",
				r.Similarity,
				r.StartTime.Format("2006-01-02 15:04"),
				r.EndTime.Format("15:04"))
			if r.EpisodeID != "" {
				fmt.Printf("  episode %s", r.EpisodeID)
			}
			fmt.Println()
		}
	}
	return nil
}
