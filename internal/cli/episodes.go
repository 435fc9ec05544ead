package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/service"
	"github.com/spf13/cobra"
)

var (
	episodesUser string
	episodesDays int
	episodesFrom string
	episodesTo   string

	editTitle    string
	editSummary  string
	editKeywords []string
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "Browse and edit merged episodes",
	Long: `Browse the episodes the formation engine clustered items into, and
apply user edits to their records.

An edit locks the record's title, summary, keywords, and entities against
automatic rewriting; later items still extend its time bounds and source
list.

Examples:
  omnictl episodes list --days 7
  omnictl episodes show 9f0c2a40-...
  omnictl episodes edit mem_context:abc --title "Morning coffee ritual"`,
	RunE: runEpisodesList,
}

var episodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent episodes",
	RunE:  runEpisodesList,
}

var episodesShowCmd = &cobra.Command{
	Use:   "show <episode-id>",
	Short: "Show every per-type record of one episode",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpisodesShow,
}

var episodesEditCmd = &cobra.Command{
	Use:   "edit <context-id>",
	Short: "Edit a record's text and lock it against automatic rewriting",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpisodesEdit,
}

func init() {
	episodesCmd.PersistentFlags().StringVarP(&episodesUser, "user", "u", "", "owning user (default from config)")
	episodesListCmd.Flags().IntVar(&episodesDays, "days", 7, "look back this many days")
	episodesListCmd.Flags().StringVar(&episodesFrom, "from", "", "window start (2006-01-02), overrides --days")
	episodesListCmd.Flags().StringVar(&episodesTo, "to", "", "window end (2006-01-02), default now")

	episodesEditCmd.Flags().StringVar(&editTitle, "title", "", "new title")
	episodesEditCmd.Flags().StringVar(&editSummary, "summary", "", "new summary")
	episodesEditCmd.Flags().StringSliceVar(&editKeywords, "keywords", nil, "replacement keywords")

	episodesCmd.AddCommand(episodesListCmd)
	episodesCmd.AddCommand(episodesShowCmd)
	episodesCmd.AddCommand(episodesEditCmd)
}

// windowFromFlags resolves the --from/--to/--days flags into a time window.
func windowFromFlags(days int, fromFlag, toFlag string) (time.Time, time.Time, error) {
	to := time.Now()
	if toFlag != "" {
		parsed, err := time.Parse("2006-01-02", toFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = parsed.AddDate(0, 0, 1) // include the named day
	}
	from := to.AddDate(0, 0, -days)
	if fromFlag != "" {
		parsed, err := time.Parse("2006-01-02", fromFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		from = parsed
	}
	return from, to, nil
}

func runEpisodesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	from, to, err := windowFromFlags(episodesDays, episodesFrom, episodesTo)
	if err != nil {
		return err
	}

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	episodes, err := svc.ListEpisodes(ctx, userOrDefault(episodesUser), from, to)
	if err != nil {
		return fmt.Errorf("list episodes: %w", err)
	}

	if len(episodes) == 0 {
		fmt.Println("No episodes found.")
		return nil
	}

	fmt.Printf("Episodes (%d):\n\n", len(episodes))
	for i := range episodes {
		ep := &episodes[i]
		lock := ""
		if ep.EditedByUser {
			lock = " [edited]"
		}
		fmt.Printf("- %s%s\n", ep.Title, lock)
		fmt.Printf("  %s  %s – %s  items=%d\n",
			deref(ep.EpisodeID),
			ep.StartTime.Format("2006-01-02 15:04"),
			ep.EndTime.Format("15:04"),
			len(ep.SourceItemIDs))
		if verbose && ep.Summary != "" {
			fmt.Printf("  %s\n", ep.Summary)
		}
	}
	return nil
}

func runEpisodesShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	records, err := svc.GetEpisodeDetail(ctx, userOrDefault(episodesUser), args[0])
	if err != nil {
		return fmt.Errorf("get episode: %w", err)
	}

	fmt.Printf("Episode %s (%d records):\n", args[0], len(records))
	for i := range records {
		rec := &records[i]
		lock := ""
		if rec.EditedByUser {
			lock = " [edited]"
		}
		fmt.Printf("\n[%s]%s %s\n", rec.ContextType, lock, rec.Title)
		fmt.Printf("  id:      %s\n", models.MustRecordIDString(rec.ID))
		fmt.Printf("  window:  %s – %s\n",
			rec.StartTime.Format(time.RFC3339), rec.EndTime.Format(time.RFC3339))
		fmt.Printf("  items:   %s\n", strings.Join(rec.SourceItemIDs, ", "))
		if rec.Summary != "" {
			fmt.Printf("  summary: %s\n", rec.Summary)
		}
		if len(rec.Keywords) > 0 {
			fmt.Printf("  keywords: %v\n", rec.Keywords)
		}
		if len(rec.Entities) > 0 {
			fmt.Printf("  entities: %v\n", rec.Entities)
		}
		if rec.Location != nil {
			fmt.Printf("  location: %s\n", *rec.Location)
		}
	}
	return nil
}

func runEpisodesEdit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	edit := service.RecordEdit{Keywords: editKeywords}
	if editTitle != "" {
		edit.Title = &editTitle
	}
	if editSummary != "" {
		edit.Summary = &editSummary
	}
	if edit.Title == nil && edit.Summary == nil && edit.Keywords == nil {
		return fmt.Errorf("nothing to edit: pass --title, --summary, or --keywords")
	}

	svc, err := browseService(true)
	if err != nil {
		return err
	}
	updated, err := svc.EditRecord(ctx, args[0], edit)
	if err != nil {
		return fmt.Errorf("edit record: %w", err)
	}

	fmt.Printf("Updated [%s] %s\n", updated.ContextType, updated.Title)
	fmt.Println("Record is now locked against automatic rewriting.")
	return nil
}
