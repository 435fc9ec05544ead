package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/rwcarlsen/goexif/exif"
)

// exifTimeLayout is the timestamp format EXIF tags carry. It has no zone,
// so the item's timezone hint disambiguates it.
const exifTimeLayout = "2006:01:02 15:04:05"

// metadataStep extracts capture metadata from the media bytes. Photos get
// their EXIF block read; other media record only basic facts.
type metadataStep struct {
	cache *artifact.Cache
}

func (s *metadataStep) Name() string                { return "metadata" }
func (s *metadataStep) Critical() bool              { return false }
func (s *metadataStep) Expensive() bool             { return false }
func (s *metadataStep) AppliesTo(*models.Item) bool { return true }

func (s *metadataStep) Run(ctx context.Context, exec *Execution) error {
	key := models.ArtifactKey{
		ItemID:          itemID(exec),
		Kind:            models.ArtifactMetadata,
		Producer:        "goexif",
		ProducerVersion: "v1",
		Fingerprint:     artifact.Fingerprint(exec.Item.BlobKey),
	}

	art, _, err := s.cache.Cached(ctx, key, func(context.Context) (map[string]any, *string, error) {
		payload, err := models.EncodePayload(extractMetadata(exec))
		return payload, nil, err
	})
	if err != nil {
		return err
	}

	decoded, err := models.DecodePayload[models.MetadataPayload](art.Payload)
	if err != nil {
		return fmt.Errorf("decode metadata artifact: %w", err)
	}
	exec.Metadata = &decoded
	exec.CaptureTime = decoded.CapturedAt
	return nil
}

func extractMetadata(exec *Execution) models.MetadataPayload {
	item := exec.Item
	meta := models.MetadataPayload{
		SizeBytes: int64(len(exec.Blob)),
		MimeType:  item.MimeType,
	}
	if item.MediaType != models.MediaPhoto {
		return meta
	}

	x, err := exif.Decode(bytes.NewReader(exec.Blob))
	if err != nil {
		return meta
	}

	zone := time.FixedZone("", item.TZOffsetMinutes*60)
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		if t, err := time.ParseInLocation(exifTimeLayout, raw, zone); err == nil {
			utc := t.UTC()
			meta.CapturedAt = &utc
			break
		}
	}

	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			meta.CameraMake = v
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			meta.CameraModel = v
		}
	}
	if tag, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Width = v
		}
	}
	if tag, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Height = v
		}
	}
	if lat, long, err := x.LatLong(); err == nil {
		meta.Latitude = &lat
		meta.Longitude = &long
	}
	return meta
}

// eventTimeStep resolves when the item actually happened, preferring
// capture metadata over the device's claim over the receipt time.
type eventTimeStep struct {
	store Store
	cache *artifact.Cache
}

func (s *eventTimeStep) Name() string                { return "event-time" }
func (s *eventTimeStep) Critical() bool              { return true }
func (s *eventTimeStep) Expensive() bool             { return false }
func (s *eventTimeStep) AppliesTo(*models.Item) bool { return true }

func (s *eventTimeStep) Run(ctx context.Context, exec *Execution) error {
	item := exec.Item
	key := models.ArtifactKey{
		ItemID:          itemID(exec),
		Kind:            models.ArtifactEventTime,
		Producer:        "event-time-resolver",
		ProducerVersion: "v1",
		Fingerprint: artifact.Fingerprint(
			fmtTimePtr(exec.CaptureTime),
			fmtTimePtr(item.DeviceCapturedAt),
			item.Created.UTC().Format(time.RFC3339Nano),
		),
	}

	art, _, err := s.cache.Cached(ctx, key, func(context.Context) (map[string]any, *string, error) {
		t, source, confidence := resolveEventTime(exec)
		payload, err := models.EncodePayload(models.EventTimePayload{
			EventTime:  t.UTC(),
			Source:     source,
			Confidence: confidence,
		})
		return payload, nil, err
	})
	if err != nil {
		return err
	}

	decoded, err := models.DecodePayload[models.EventTimePayload](art.Payload)
	if err != nil {
		return fmt.Errorf("decode event time artifact: %w", err)
	}
	if decoded.EventTime.IsZero() {
		return fmt.Errorf("event time artifact has no timestamp")
	}

	if item.EventTime == nil || !item.EventTime.Equal(decoded.EventTime) ||
		item.EventTimeSource == nil || *item.EventTimeSource != decoded.Source {
		if err := s.store.SetItemEventTime(ctx, itemID(exec), decoded.EventTime, decoded.Source, decoded.Confidence); err != nil {
			return fmt.Errorf("store event time: %w", err)
		}
	}
	item.EventTime = &decoded.EventTime
	item.EventTimeSource = &decoded.Source
	item.EventTimeConfidence = &decoded.Confidence
	return nil
}

func resolveEventTime(exec *Execution) (time.Time, string, float64) {
	switch {
	case exec.CaptureTime != nil:
		return *exec.CaptureTime, models.EventSourceCapture, models.EventConfidenceCapture
	case exec.Item.DeviceCapturedAt != nil:
		return *exec.Item.DeviceCapturedAt, models.EventSourceDevice, models.EventConfidenceDevice
	default:
		return exec.Item.Created, models.EventSourceReceipt, models.EventConfidenceReceipt
	}
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
