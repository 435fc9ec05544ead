package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// providerStepSpec declares one enrichment step: which provider to call,
// what media it applies to, how to build its input, and where its result
// lands on the execution. All provider steps share the run logic below.
type providerStepSpec struct {
	name        string
	kind        string
	provider    enrich.Provider
	cache       *artifact.Cache
	media       []string
	input       func(exec *Execution) enrich.Input
	fingerprint func(exec *Execution) string
	skip        func(exec *Execution) bool
	stash       func(exec *Execution, res enrich.Result)
}

type providerStep struct {
	spec providerStepSpec
}

func newProviderStep(spec providerStepSpec) *providerStep {
	return &providerStep{spec: spec}
}

func (s *providerStep) Name() string    { return s.spec.name }
func (s *providerStep) Critical() bool  { return false }
func (s *providerStep) Expensive() bool { return true }

func (s *providerStep) AppliesTo(item *models.Item) bool {
	return slices.Contains(s.spec.media, item.MediaType)
}

func (s *providerStep) Run(ctx context.Context, exec *Execution) error {
	if s.spec.skip != nil && s.spec.skip(exec) {
		return nil
	}

	key := models.ArtifactKey{
		ItemID:          itemID(exec),
		Kind:            s.spec.kind,
		Producer:        s.spec.provider.Name(),
		ProducerVersion: s.spec.provider.Version(),
		Fingerprint:     s.spec.fingerprint(exec),
	}

	art, _, err := s.spec.cache.Cached(ctx, key, func(ctx context.Context) (map[string]any, *string, error) {
		res, err := s.spec.provider.Enrich(ctx, s.spec.input(exec))
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", s.spec.name, err)
		}
		return res.Payload(), nil, nil
	})
	if err != nil {
		return err
	}

	res := enrich.ResultFromPayload(art.Payload)
	s.spec.stash(exec, res)
	return nil
}

// blobInput feeds the raw media bytes to a provider.
func blobInput(exec *Execution) enrich.Input {
	return enrich.Input{
		MediaType: exec.Item.MediaType,
		MimeType:  exec.Item.MimeType,
		Blob:      exec.Blob,
	}
}

// blobFingerprint keys a provider call to the media bytes it saw.
func blobFingerprint(exec *Execution) string {
	return artifact.Fingerprint(exec.ContentHash)
}

// transcriptText is the ok-status transcript, or empty when transcription
// produced nothing usable.
func transcriptText(exec *Execution) string {
	if exec.Transcript == nil || exec.Transcript.Status != enrich.StatusOK {
		return ""
	}
	return exec.Transcript.RawText
}

// transcriptInput feeds the transcript text to a provider.
func transcriptInput(exec *Execution) enrich.Input {
	return enrich.Input{
		MediaType: exec.Item.MediaType,
		MimeType:  exec.Item.MimeType,
		Text:      transcriptText(exec),
	}
}

// transcriptFingerprint keys a provider call to the transcript it read, so
// a better transcript recomputes downstream enrichment.
func transcriptFingerprint(exec *Execution) string {
	return artifact.Fingerprint(exec.ContentHash, transcriptText(exec))
}
