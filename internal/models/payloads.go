package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Typed payload shapes for artifact kinds and task payloads whose structure
// is known in advance. Only raw provider output stays an open map.

// ContentHashPayload is the content_hash artifact payload.
type ContentHashPayload struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// MetadataPayload is the metadata artifact payload. Size and mime type are
// recorded for every item; the rest comes from EXIF and is photo-only.
type MetadataPayload struct {
	SizeBytes   int64      `json:"size_bytes"`
	MimeType    string     `json:"mime_type,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
}

// EventTimePayload is the event_time artifact payload.
type EventTimePayload struct {
	EventTime  time.Time `json:"event_time"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
}

// PerceptualHashPayload is the perceptual_hash artifact payload.
// AHash is the 64-bit average hash as 16 lowercase hex characters.
type PerceptualHashPayload struct {
	AHash string `json:"ahash"`
}

// DedupPayload is the dedup artifact payload.
type DedupPayload struct {
	Duplicate   bool   `json:"duplicate"`
	Kind        string `json:"kind,omitempty"`
	CanonicalID string `json:"canonical_id,omitempty"`
	Distance    *int   `json:"distance,omitempty"`
}

// EnrichmentPayload is the envelope for caption/ocr/vision/transcript
// artifacts. Status is one of ok, error, disabled; Parsed carries
// provider-defined structured output and stays an open map.
type EnrichmentPayload struct {
	Status  string         `json:"status"`
	RawText string         `json:"raw_text,omitempty"`
	Parsed  map[string]any `json:"parsed,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// EpisodeSummaryPayload is the episode_summary artifact payload.
type EpisodeSummaryPayload struct {
	Status       string   `json:"status"`
	Title        string   `json:"title,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	OmittedCount int      `json:"omitted_count"`
	Error        string   `json:"error,omitempty"`
}

// Task payloads.

// ProcessItemPayload drives the process_item and delete_item tasks.
type ProcessItemPayload struct {
	ItemID string `json:"item_id"`
	Force  bool   `json:"force,omitempty"`
}

// FormEpisodePayload drives the form_episode task.
type FormEpisodePayload struct {
	ItemID string `json:"item_id"`
}

// RollupPayload drives the rollup_daily and rollup_weekly tasks.
// DateKey is the local calendar date (daily) or window start (weekly),
// formatted 2006-01-02.
type RollupPayload struct {
	UserID          string `json:"user_id"`
	DateKey         string `json:"date_key"`
	TZOffsetMinutes int    `json:"tz_offset_minutes"`
	Force           bool   `json:"force,omitempty"`
}

// ReconcilePayload drives the reconcile_episodes task.
type ReconcilePayload struct {
	UserID string    `json:"user_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// EncodePayload converts a typed payload into the open map persisted on
// artifact and task rows.
func EncodePayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode payload map: %w", err)
	}
	return m, nil
}

// DecodePayload converts a persisted open map back into a typed payload.
func DecodePayload[T any](m map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(m)
	if err != nil {
		return out, fmt.Errorf("encode payload map: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
