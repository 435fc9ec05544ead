// Package service wires ingress, task orchestration, and retrieval on top
// of the storage and engine packages. The daemon and the CLI construct one
// service set each and share its collaborators.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// Enqueuer hands tasks to the background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// IngestStore is the persistence surface ingress writes through.
type IngestStore interface {
	CreateItem(ctx context.Context, input models.ItemInput) (*models.Item, error)
}

// mediaTypes maps file extensions to the media type accepted on ingress.
var mediaTypes = map[string]string{
	".jpg":  models.MediaPhoto,
	".jpeg": models.MediaPhoto,
	".png":  models.MediaPhoto,
	".gif":  models.MediaPhoto,
	".webp": models.MediaPhoto,
	".heic": models.MediaPhoto,
	".mp4":  models.MediaVideo,
	".mov":  models.MediaVideo,
	".mkv":  models.MediaVideo,
	".webm": models.MediaVideo,
	".mp3":  models.MediaAudio,
	".wav":  models.MediaAudio,
	".m4a":  models.MediaAudio,
	".ogg":  models.MediaAudio,
	".flac": models.MediaAudio,
}

// MediaTypeForPath classifies a file by extension. Empty means the file is
// not ingestable media.
func MediaTypeForPath(path string) string {
	return mediaTypes[strings.ToLower(filepath.Ext(path))]
}

// IngestService admits captured media: it stores the raw bytes, creates the
// item row, and enqueues processing.
type IngestService struct {
	store IngestStore
	blobs blob.Store
	queue Enqueuer
	log   *slog.Logger
}

func NewIngestService(store IngestStore, blobs blob.Store, queue Enqueuer, log *slog.Logger) *IngestService {
	if log == nil {
		log = slog.Default()
	}
	return &IngestService{store: store, blobs: blobs, queue: queue, log: log}
}

// IngestOptions carries the capture hints supplied on ingress.
type IngestOptions struct {
	UserID          string
	Source          string
	DeviceID        string
	TZOffsetMinutes int
	// CapturedAt is the device-reported capture time, when the source knows
	// it. Capture metadata found during processing still outranks it.
	CapturedAt   *time.Time
	DurationSecs *float64

	// Directory ingestion.
	Recursive   bool
	Concurrency int
	// OnProgress, when set, is called after each file of a directory ingest.
	OnProgress func(done, total int, path string, err error)
}

// IngestResult summarizes a directory ingestion.
type IngestResult struct {
	FilesProcessed int
	FilesSkipped   int
	ItemIDs        []string
	Errors         []string
}

// IngestBytes admits one media buffer and returns the created item, already
// queued for processing.
func (s *IngestService) IngestBytes(ctx context.Context, data []byte, mediaType, mimeType string, opts IngestOptions) (*models.Item, error) {
	if len(data) == 0 {
		return nil, errors.New("empty media payload")
	}

	key, err := s.blobs.Store(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	input := models.ItemInput{
		UserID:           opts.UserID,
		MediaType:        mediaType,
		Source:           opts.Source,
		BlobKey:          key,
		MimeType:         mimeType,
		DeviceCapturedAt: opts.CapturedAt,
		DurationSecs:     opts.DurationSecs,
		TZOffsetMinutes:  opts.TZOffsetMinutes,
	}
	if opts.DeviceID != "" {
		input.DeviceID = &opts.DeviceID
	}

	item, err := s.store.CreateItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	itemID := models.MustRecordIDString(item.ID)

	if _, err := s.queue.Enqueue(ctx, models.TaskProcessItem, models.ProcessItemPayload{ItemID: itemID}); err != nil {
		return nil, fmt.Errorf("enqueue processing: %w", err)
	}

	s.log.Info("item ingested",
		"item_id", itemID,
		"user_id", opts.UserID,
		"media_type", mediaType,
		"size", len(data))
	return item, nil
}

// IngestFile admits one media file from disk.
func (s *IngestService) IngestFile(ctx context.Context, path string, opts IngestOptions) (*models.Item, error) {
	mediaType := MediaTypeForPath(path)
	if mediaType == "" {
		return nil, fmt.Errorf("unsupported media file %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	return s.IngestBytes(ctx, data, mediaType, mimeType, opts)
}

// CollectFiles walks a directory and returns the ingestable media files plus
// a count of regular files that were skipped as non-media.
func CollectFiles(dirPath string, recursive bool) ([]string, int, error) {
	var files []string
	skipped := 0
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dirPath {
				return filepath.SkipDir
			}
			return nil
		}
		if MediaTypeForPath(path) == "" {
			skipped++
			return nil
		}
		files = append(files, path)
		return nil
	}

	if err := filepath.WalkDir(dirPath, walkFn); err != nil {
		return nil, 0, fmt.Errorf("scan directory: %w", err)
	}
	return files, skipped, nil
}

// IngestDirectory admits every media file under a directory using a worker
// pool. A failed file is reported in the result; it does not abort the run.
func (s *IngestService) IngestDirectory(ctx context.Context, dirPath string, opts IngestOptions) (*IngestResult, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path must be a directory: %s", dirPath)
	}

	files, skipped, err := CollectFiles(dirPath, opts.Recursive)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &IngestResult{FilesSkipped: skipped}, nil
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		processed atomic.Int32
		mu        sync.Mutex
		itemIDs   []string
		errs      []string
	)

	fileChan := make(chan string, len(files))
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range fileChan {
				if ctx.Err() != nil {
					return
				}
				item, err := s.IngestFile(ctx, path, opts)
				mu.Lock()
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", path, err))
				} else {
					itemIDs = append(itemIDs, models.MustRecordIDString(item.ID))
				}
				mu.Unlock()
				done := int(processed.Add(1))
				if opts.OnProgress != nil {
					opts.OnProgress(done, len(files), path, err)
				}
			}
		}()
	}
	for _, f := range files {
		fileChan <- f
	}
	close(fileChan)
	wg.Wait()

	s.log.Info("directory ingested",
		"dir", dirPath,
		"files", len(files),
		"skipped", skipped,
		"items", len(itemIDs),
		"errors", len(errs))
	return &IngestResult{
		FilesProcessed: int(processed.Load()),
		FilesSkipped:   skipped,
		ItemIDs:        itemIDs,
		Errors:         errs,
	}, nil
}
