// Package models defines data structures for the OmniMemory pipeline.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Item lifecycle statuses.
const (
	ItemStatusPending    = "pending"
	ItemStatusProcessing = "processing"
	ItemStatusCompleted  = "completed"
	ItemStatusFailed     = "failed"
)

// Media types accepted on ingress.
const (
	MediaPhoto = "photo"
	MediaVideo = "video"
	MediaAudio = "audio"
)

// Event-time source tags, ordered by trust.
const (
	EventSourceCapture = "capture_metadata"
	EventSourceDevice  = "device_reported"
	EventSourceReceipt = "receipt_time"
)

// Fixed confidence scores per event-time source.
const (
	EventConfidenceCapture = 0.95
	EventConfidenceDevice  = 0.7
	EventConfidenceReceipt = 0.4
)

// Duplicate kinds recorded on items.
const (
	DuplicateExact = "exact"
	DuplicateNear  = "near"
)

// Item represents one captured asset moving through the pipeline.
type Item struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	MediaType string                 `json:"media_type"`
	Source    string                 `json:"source,omitempty"`
	BlobKey   string                 `json:"blob_key"`
	MimeType  string                 `json:"mime_type,omitempty"`

	// Capture hints supplied on ingress.
	DeviceID         *string    `json:"device_id,omitempty"`
	DeviceCapturedAt *time.Time `json:"device_captured_at,omitempty"`
	DurationSecs     *float64   `json:"duration_secs,omitempty"`
	WindowEnd        *time.Time `json:"window_end,omitempty"`
	TZOffsetMinutes  int        `json:"tz_offset_minutes"`

	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`

	ContentHash    *string `json:"content_hash,omitempty"`
	PerceptualHash *string `json:"perceptual_hash,omitempty"`

	// Resolved event time with its provenance.
	EventTime           *time.Time `json:"event_time,omitempty"`
	EventTimeSource     *string    `json:"event_time_source,omitempty"`
	EventTimeConfidence *float64   `json:"event_time_confidence,omitempty"`

	// Set when the item is a recognized duplicate of another item.
	DuplicateOf   *surrealmodels.RecordID `json:"duplicate_of,omitempty"`
	DuplicateKind *string                 `json:"duplicate_kind,omitempty"`

	Created time.Time `json:"created,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// ItemInput carries the ingress fields for creating an item.
type ItemInput struct {
	UserID           string
	MediaType        string
	Source           string
	BlobKey          string
	MimeType         string
	DeviceID         *string
	DeviceCapturedAt *time.Time
	DurationSecs     *float64
	WindowEnd        *time.Time
	TZOffsetMinutes  int
}

// IsDuplicate reports whether the item was marked a duplicate of another item.
func (i *Item) IsDuplicate() bool {
	return i.DuplicateOf != nil
}

// EventBounds derives the item's contribution to an episode's time window:
// start is the resolved event time, end extends it by the media duration or
// the source-supplied window end, whichever reaches further.
// Falls back to the created timestamp when no event time was resolved.
func (i *Item) EventBounds() (time.Time, time.Time) {
	start := i.Created
	if i.EventTime != nil {
		start = *i.EventTime
	}
	end := start
	if i.DurationSecs != nil && *i.DurationSecs > 0 {
		end = start.Add(time.Duration(*i.DurationSecs * float64(time.Second)))
	}
	if i.WindowEnd != nil && i.WindowEnd.After(end) {
		end = *i.WindowEnd
	}
	return start, end
}
