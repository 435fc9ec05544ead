package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/spf13/cobra"
)

var (
	itemsUser   string
	itemsStatus string
	itemsLimit  int
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List and manage ingested items",
	Long: `List, inspect, delete, or reprocess ingested items.

Examples:
  omnictl items list --status failed
  omnictl items show item:abc123
  omnictl items reprocess item:abc123
  omnictl items delete item:abc123`,
	RunE: runItemsList,
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items",
	RunE:  runItemsList,
}

var itemsShowCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show one item with its observations and cached artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemsShow,
}

var itemsDeleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete an item and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemsDelete,
}

var itemsReprocessCmd = &cobra.Command{
	Use:   "reprocess <item-id>",
	Short: "Re-run the enrichment pipeline for an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemsReprocess,
}

func init() {
	itemsCmd.PersistentFlags().StringVarP(&itemsUser, "user", "u", "", "owning user (default from config)")
	itemsListCmd.Flags().StringVarP(&itemsStatus, "status", "s", "", "filter by status (pending, processing, completed, failed)")
	itemsListCmd.Flags().IntVarP(&itemsLimit, "limit", "n", 50, "max results")

	itemsCmd.AddCommand(itemsListCmd)
	itemsCmd.AddCommand(itemsShowCmd)
	itemsCmd.AddCommand(itemsDeleteCmd)
	itemsCmd.AddCommand(itemsReprocessCmd)
}

func runItemsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	items, err := svc.ListItems(ctx, userOrDefault(itemsUser), itemsStatus, itemsLimit)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	fmt.Printf("%-36s %-6s %-11s %-20s %s\n", "ID", "TYPE", "STATUS", "EVENT TIME", "NOTE")
	fmt.Println(strings.Repeat("-", 90))
	for i := range items {
		item := &items[i]
		eventTime := "-"
		if item.EventTime != nil {
			eventTime = item.EventTime.Format("2006-01-02 15:04:05")
		}
		note := ""
		if item.IsDuplicate() {
			note = fmt.Sprintf("%s dup of %s", *item.DuplicateKind, models.MustRecordIDString(*item.DuplicateOf))
		} else if item.Error != nil {
			note = *item.Error
		}
		fmt.Printf("%-36s %-6s %-11s %-20s %s\n",
			models.MustRecordIDString(item.ID), item.MediaType, item.Status, eventTime, note)
	}
	return nil
}

func runItemsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	detail, err := svc.GetItemDetail(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	item := detail.Item

	fmt.Printf("Item: %s\n", models.MustRecordIDString(item.ID))
	fmt.Printf("  User:       %s\n", item.UserID)
	fmt.Printf("  Type:       %s (%s)\n", item.MediaType, item.MimeType)
	fmt.Printf("  Status:     %s\n", item.Status)
	if item.Error != nil {
		fmt.Printf("  Error:      %s\n", *item.Error)
	}
	fmt.Printf("  Source:     %s\n", item.Source)
	if item.DeviceID != nil {
		fmt.Printf("  Device:     %s\n", *item.DeviceID)
	}
	if item.EventTime != nil {
		fmt.Printf("  Event time: %s (%s, confidence %.2f)\n",
			item.EventTime.Format(time.RFC3339), deref(item.EventTimeSource), derefFloat(item.EventTimeConfidence))
	}
	if item.ContentHash != nil {
		fmt.Printf("  Content hash:    %s\n", shorten(*item.ContentHash, 16))
	}
	if item.PerceptualHash != nil {
		fmt.Printf("  Perceptual hash: %s\n", *item.PerceptualHash)
	}
	if item.IsDuplicate() {
		fmt.Printf("  Duplicate:  %s of %s\n", *item.DuplicateKind, models.MustRecordIDString(*item.DuplicateOf))
	}

	if len(detail.Observations) > 0 {
		fmt.Printf("\nObservations (%d):\n", len(detail.Observations))
		for i := range detail.Observations {
			obs := &detail.Observations[i]
			fmt.Printf("  - [%s] %s\n", obs.ContextType, obs.Title)
			if verbose && obs.Summary != "" {
				fmt.Printf("    %s\n", obs.Summary)
			}
		}
	}

	if len(detail.Artifacts) > 0 {
		fmt.Printf("\nCached artifacts (%d):\n", len(detail.Artifacts))
		for i := range detail.Artifacts {
			art := &detail.Artifacts[i]
			fmt.Printf("  - %s  %s@%s  fp=%s\n",
				art.Kind, art.Producer, art.ProducerVersion, shorten(art.Fingerprint, 12))
		}
	}
	return nil
}

func runItemsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	taskID, err := svc.RequestDelete(ctx, args[0])
	if err != nil {
		return fmt.Errorf("request delete: %w", err)
	}
	fmt.Printf("Delete queued (task %s)\n", taskID)
	return nil
}

func runItemsReprocess(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	taskID, err := svc.RequestReprocess(ctx, args[0])
	if err != nil {
		return fmt.Errorf("request reprocess: %w", err)
	}
	fmt.Printf("Reprocess queued (task %s)\n", taskID)
	return nil
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
