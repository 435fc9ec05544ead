// Package enrich calls AI providers for captions, OCR, vision analysis,
// transcription, and summaries. Every call returns a status envelope
// instead of failing the caller: provider trouble degrades the result,
// missing credentials disable it, and the pipeline keeps moving either way.
package enrich

import "context"

// Result status values. Anything other than StatusOK means "no enrichment
// available"; callers fall back to caption-only or generic observations.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDisabled = "disabled"
)

// Input carries what a provider may look at. Photo providers read Blob and
// MimeType; text providers read Text.
type Input struct {
	MediaType string
	MimeType  string
	Blob      []byte
	Text      string
}

// Result is the provider envelope. Parsed is only populated for providers
// that return structured output, and keeps whatever shape the model
// produced.
type Result struct {
	Status  string         `json:"status"`
	RawText string         `json:"raw_text,omitempty"`
	Parsed  map[string]any `json:"parsed,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// Payload flattens the envelope into an artifact payload.
func (r Result) Payload() map[string]any {
	p := map[string]any{"status": r.Status}
	if r.RawText != "" {
		p["raw_text"] = r.RawText
	}
	if r.Parsed != nil {
		p["parsed"] = r.Parsed
	}
	if r.Err != "" {
		p["error"] = r.Err
	}
	return p
}

// ResultFromPayload rebuilds the envelope from a stored artifact payload.
func ResultFromPayload(p map[string]any) Result {
	r := Result{
		Status:  StringValue(p, "status"),
		RawText: StringValue(p, "raw_text"),
		Err:     StringValue(p, "error"),
	}
	if parsed, ok := p["parsed"].(map[string]any); ok {
		r.Parsed = parsed
	}
	return r
}

// Provider is a single enrichment capability. Enrich returns a non-nil
// error only for caller-side problems (context cancellation); provider
// failures are reported inside the Result.
type Provider interface {
	Name() string
	Version() string
	Enrich(ctx context.Context, in Input) (Result, error)
}

// Summary is the structured output of episode summarization.
type Summary struct {
	Status   string   `json:"status"`
	Title    string   `json:"title,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Err      string   `json:"error,omitempty"`
}

// Summarizer condenses the observations of an episode's member items into
// one title/summary/keywords set. omitted reports how many member items
// were cut to bound the prompt.
type Summarizer interface {
	Name() string
	Version() string
	Summarize(ctx context.Context, texts []string, omitted int) (Summary, error)
}

// Disabled is a provider placeholder used when configuration rules a
// backend out. It never errors; it reports StatusDisabled.
type Disabled struct {
	ProviderName string
	Reason       string
}

func (d Disabled) Name() string    { return d.ProviderName }
func (d Disabled) Version() string { return "disabled" }

func (d Disabled) Enrich(ctx context.Context, _ Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusDisabled, Err: d.Reason}, nil
}

// DisabledSummarizer mirrors Disabled for the summarization contract.
type DisabledSummarizer struct {
	Reason string
}

func (d DisabledSummarizer) Name() string    { return "episode-summary" }
func (d DisabledSummarizer) Version() string { return "disabled" }

func (d DisabledSummarizer) Summarize(ctx context.Context, _ []string, _ int) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	return Summary{Status: StatusDisabled, Err: d.Reason}, nil
}

// Set bundles the providers the pipeline consumes, one per concern.
type Set struct {
	Caption    Provider
	OCR        Provider
	Vision     Provider
	Transcribe Provider
	Generic    Provider
	Summary    Summarizer
}

// DisabledSet returns a Set where every provider reports StatusDisabled
// with the given reason.
func DisabledSet(reason string) *Set {
	return &Set{
		Caption:    Disabled{ProviderName: "caption", Reason: reason},
		OCR:        Disabled{ProviderName: "ocr", Reason: reason},
		Vision:     Disabled{ProviderName: "vision", Reason: reason},
		Transcribe: Disabled{ProviderName: "transcribe", Reason: reason},
		Generic:    Disabled{ProviderName: "generic-context", Reason: reason},
		Summary:    DisabledSummarizer{Reason: reason},
	}
}
