package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/service"
	"github.com/spf13/cobra"
)

var (
	ingestUser        string
	ingestSource      string
	ingestDevice      string
	ingestTZOffset    int
	ingestCapturedAt  string
	ingestDuration    float64
	ingestRecursive   bool
	ingestConcurrency int
	ingestWatch       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest media files into the memory pipeline",
	Long: `Ingest a media file or a directory of media files.

Files are stored content-addressed and queued for background processing by
the omnid daemon: enrichment, dedup, episode formation, and daily rollups.
Re-ingesting identical bytes creates a new item that dedup marks as an
exact duplicate of the original.

Examples:
  omnictl ingest photo.jpg
  omnictl ingest ~/camera-roll --recursive --watch
  omnictl ingest clip.mp4 --device phone-1 --captured-at 2026-08-20T09:00:00Z
  omnictl ingest note.m4a --user alice --duration 42.5`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "owning user (default from config)")
	ingestCmd.Flags().StringVarP(&ingestSource, "source", "s", "cli", "ingestion source tag")
	ingestCmd.Flags().StringVarP(&ingestDevice, "device", "d", "", "capture device id")
	ingestCmd.Flags().IntVar(&ingestTZOffset, "tz-offset", 0, "user timezone offset in minutes")
	ingestCmd.Flags().StringVar(&ingestCapturedAt, "captured-at", "", "device-reported capture time (RFC 3339)")
	ingestCmd.Flags().Float64Var(&ingestDuration, "duration", 0, "media duration in seconds")
	ingestCmd.Flags().BoolVarP(&ingestRecursive, "recursive", "r", false, "recurse into subdirectories")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 4, "parallel file reads for directories")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "watch processing progress")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := context.Background()

	blobs, err := newBlobStore()
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	svc := service.NewIngestService(dbClient, blobs, newQueue(), nil)

	opts := service.IngestOptions{
		UserID:          userOrDefault(ingestUser),
		Source:          ingestSource,
		DeviceID:        ingestDevice,
		TZOffsetMinutes: ingestTZOffset,
		Recursive:       ingestRecursive,
		Concurrency:     ingestConcurrency,
	}
	if ingestCapturedAt != "" {
		capturedAt, err := time.Parse(time.RFC3339, ingestCapturedAt)
		if err != nil {
			return fmt.Errorf("invalid --captured-at: %w", err)
		}
		opts.CapturedAt = &capturedAt
	}
	if ingestDuration > 0 {
		opts.DurationSecs = &ingestDuration
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	var itemIDs []string
	if info.IsDir() {
		result, err := svc.IngestDirectory(ctx, path, opts)
		if err != nil {
			return fmt.Errorf("ingest directory: %w", err)
		}
		fmt.Printf("Queued %d items (%d files skipped as non-media)\n",
			len(result.ItemIDs), result.FilesSkipped)
		if len(result.Errors) > 0 {
			fmt.Printf("\nErrors (%d):\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  • %s\n", e)
			}
		}
		itemIDs = result.ItemIDs
	} else {
		item, err := svc.IngestFile(ctx, path, opts)
		if err != nil {
			return fmt.Errorf("ingest file: %w", err)
		}
		itemID := models.MustRecordIDString(item.ID)
		fmt.Printf("Queued item: %s (%s)\n", itemID, item.MediaType)
		itemIDs = []string{itemID}
	}

	if ingestWatch && len(itemIDs) > 0 {
		return RunItemProgress(dbClient, itemIDs)
	}
	if len(itemIDs) > 0 && !ingestWatch {
		fmt.Println("Use 'omnictl items list' to check processing status.")
	}
	return nil
}
