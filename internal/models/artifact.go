package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Artifact kinds produced by pipeline steps.
const (
	ArtifactContentHash    = "content_hash"
	ArtifactMetadata       = "metadata"
	ArtifactEventTime      = "event_time"
	ArtifactPerceptualHash = "perceptual_hash"
	ArtifactDedup          = "dedup"
	ArtifactCaption        = "caption"
	ArtifactOCR            = "ocr"
	ArtifactVision         = "vision_analysis"
	ArtifactTranscript     = "transcript"
	ArtifactGenericContext = "generic_context"
	ArtifactEpisodeSummary = "episode_summary"
)

// Artifact is one content-addressed cache entry. The tuple
// (item, kind, producer, producer_version, fingerprint) is unique; rows are
// insert-only and never mutated in place.
type Artifact struct {
	ID              surrealmodels.RecordID `json:"id"`
	ItemID          string                 `json:"item_id"`
	Kind            string                 `json:"kind"`
	Producer        string                 `json:"producer"`
	ProducerVersion string                 `json:"producer_version"`
	Fingerprint     string                 `json:"fingerprint"`
	Payload         map[string]any         `json:"payload"`
	BlobKey         *string                `json:"blob_key,omitempty"`
	Created         time.Time              `json:"created,omitempty"`
}

// ArtifactKey identifies one cached computation.
type ArtifactKey struct {
	ItemID          string
	Kind            string
	Producer        string
	ProducerVersion string
	Fingerprint     string
}
