// Package pipeline runs ingested items through the derivation steps that
// turn raw media into observations: hashing, metadata, deduplication,
// enrichment, persistence, and indexing. Every derivation is cached as an
// artifact keyed by its inputs, so retries and replays reuse earlier work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// Store is the persistence surface the pipeline steps write through.
// Each call commits on its own, so a crash between steps loses at most the
// step in flight.
type Store interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	UpdateItemStatus(ctx context.Context, id, status string, errMsg *string) error
	SetItemContentHash(ctx context.Context, id, hash string) error
	SetItemPerceptualHash(ctx context.Context, id, hash string) error
	SetItemEventTime(ctx context.Context, id string, t time.Time, source string, confidence float64) error
	MarkItemDuplicate(ctx context.Context, id, canonicalID, kind string) error
	FindOldestItemByContentHash(ctx context.Context, userID, hash string) (*models.Item, error)
	FindItemsInEventWindow(ctx context.Context, userID string, from, to time.Time, excludeID string) ([]models.Item, error)
	UpsertContext(ctx context.Context, id string, mc models.MemoryContext) (*models.MemoryContext, error)
	DeleteObservationsByItem(ctx context.Context, userID, itemID string) ([]string, error)
}

// StepIssue records one non-critical degradation.
type StepIssue struct {
	Step   string
	Reason string
}

// Observation pairs a persisted context record with its id so later steps
// can index it without a re-read.
type Observation struct {
	ID     string
	Record models.MemoryContext
}

// Execution carries one item through the steps. Steps read what earlier
// steps produced and leave their own products behind.
type Execution struct {
	Item *models.Item
	Blob []byte

	ContentHash string
	CaptureTime *time.Time
	Metadata    *models.MetadataPayload

	Caption    *enrich.Result
	OCR        *enrich.Result
	Vision     *enrich.Result
	Transcript *enrich.Result
	Generic    *enrich.Result

	Observations []Observation
	// Stale holds ids of observations from an earlier run that this run no
	// longer produces; the embed step drops them from the index.
	Stale    []string
	Degraded []StepIssue
}

func (e *Execution) degrade(step, reason string) {
	e.Degraded = append(e.Degraded, StepIssue{Step: step, Reason: reason})
}

// Step is one unit of the pipeline. Run returns an error for failures;
// whether that fails the item or only degrades it depends on Critical.
type Step interface {
	Name() string
	Critical() bool
	Expensive() bool
	AppliesTo(item *models.Item) bool
	Run(ctx context.Context, exec *Execution) error
}

// Deps wires the runner to its collaborators.
type Deps struct {
	Store     Store
	Blobs     blob.Store
	Cache     *artifact.Cache
	Index     vector.Index
	Providers *enrich.Set
	Config    config.Config
	Log       *slog.Logger
}

// Runner executes the step sequence for single items.
type Runner struct {
	store         Store
	steps         []Step
	skipExpensive bool
	log           *slog.Logger
}

// NewRunner assembles the standard step sequence. Photos get perceptual
// hashing, OCR, and vision; audio and video get transcription feeding the
// generic context provider.
func NewRunner(deps Deps) *Runner {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	steps := []Step{
		&fetchBlobStep{blobs: deps.Blobs},
		&contentHashStep{store: deps.Store, cache: deps.Cache},
		&metadataStep{cache: deps.Cache},
		&eventTimeStep{store: deps.Store, cache: deps.Cache},
		&perceptualHashStep{store: deps.Store, cache: deps.Cache},
		&dedupStep{
			store:       deps.Store,
			cache:       deps.Cache,
			window:      deps.Config.NearDupWindow,
			maxDistance: deps.Config.NearDupMaxDistance,
			log:         log,
		},
		newProviderStep(providerStepSpec{
			name: "caption", kind: models.ArtifactCaption,
			provider: deps.Providers.Caption, cache: deps.Cache,
			media: []string{models.MediaPhoto},
			input: blobInput, fingerprint: blobFingerprint,
			stash: func(exec *Execution, res enrich.Result) { exec.Caption = &res },
		}),
		newProviderStep(providerStepSpec{
			name: "ocr", kind: models.ArtifactOCR,
			provider: deps.Providers.OCR, cache: deps.Cache,
			media: []string{models.MediaPhoto},
			input: blobInput, fingerprint: blobFingerprint,
			stash: func(exec *Execution, res enrich.Result) { exec.OCR = &res },
		}),
		newProviderStep(providerStepSpec{
			name: "vision", kind: models.ArtifactVision,
			provider: deps.Providers.Vision, cache: deps.Cache,
			media: []string{models.MediaPhoto},
			input: blobInput, fingerprint: blobFingerprint,
			stash: func(exec *Execution, res enrich.Result) { exec.Vision = &res },
		}),
		newProviderStep(providerStepSpec{
			name: "transcribe", kind: models.ArtifactTranscript,
			provider: deps.Providers.Transcribe, cache: deps.Cache,
			media: []string{models.MediaAudio, models.MediaVideo},
			input: blobInput, fingerprint: blobFingerprint,
			stash: func(exec *Execution, res enrich.Result) { exec.Transcript = &res },
		}),
		newProviderStep(providerStepSpec{
			name: "generic-context", kind: models.ArtifactGenericContext,
			provider: deps.Providers.Generic, cache: deps.Cache,
			media:       []string{models.MediaAudio, models.MediaVideo},
			input:       transcriptInput,
			fingerprint: transcriptFingerprint,
			skip:        func(exec *Execution) bool { return transcriptText(exec) == "" },
			stash:       func(exec *Execution, res enrich.Result) { exec.Generic = &res },
		}),
		&persistStep{store: deps.Store},
		&embedStep{index: deps.Index},
	}

	return &Runner{
		store:         deps.Store,
		steps:         steps,
		skipExpensive: deps.Config.SkipExpensive,
		log:           log,
	}
}

// Process runs one item through the pipeline and returns the finished
// execution. Completed items return immediately with no observations;
// failed and pending items run from the top, served by the artifact cache
// for everything already derived.
func (r *Runner) Process(ctx context.Context, itemID string) (*Execution, error) {
	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
	}
	if item.Status == models.ItemStatusCompleted {
		r.log.Debug("item already completed", "item_id", itemID)
		return &Execution{Item: item}, nil
	}

	if err := r.store.UpdateItemStatus(ctx, itemID, models.ItemStatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	item.Status = models.ItemStatusProcessing

	exec := &Execution{Item: item}
	start := time.Now()

	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !step.AppliesTo(item) {
			continue
		}
		if step.Expensive() && (r.skipExpensive || item.IsDuplicate()) {
			r.log.Debug("skipping expensive step", "item_id", itemID, "step", step.Name())
			continue
		}

		if err := step.Run(ctx, exec); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if step.Critical() {
				msg := fmt.Sprintf("%s: %s", step.Name(), err.Error())
				if serr := r.store.UpdateItemStatus(ctx, itemID, models.ItemStatusFailed, &msg); serr != nil {
					r.log.Error("mark failed", "item_id", itemID, "error", serr)
				}
				return nil, fmt.Errorf("step %s: %w", step.Name(), err)
			}
			exec.degrade(step.Name(), err.Error())
			r.log.Warn("step degraded", "item_id", itemID, "step", step.Name(), "error", err)
		}
	}

	if err := r.store.UpdateItemStatus(ctx, itemID, models.ItemStatusCompleted, nil); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	r.log.Info("item processed",
		"item_id", itemID,
		"media_type", item.MediaType,
		"duplicate", item.IsDuplicate(),
		"observations", len(exec.Observations),
		"degraded", len(exec.Degraded),
		"duration_ms", time.Since(start).Milliseconds())
	return exec, nil
}

// ObservationIDs lists the record ids the persist step wrote, for callers
// that enqueue follow-up work per observation.
func (e *Execution) ObservationIDs() []string {
	ids := make([]string, 0, len(e.Observations))
	for _, o := range e.Observations {
		ids = append(ids, o.ID)
	}
	return ids
}
