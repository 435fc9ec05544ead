package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// callTimeout bounds every provider call so a stuck backend degrades the
// step instead of blocking the item.
const callTimeout = 90 * time.Second

// Prompt revisions. They feed producer versions, so editing a prompt
// naturally invalidates cached artifacts without deleting anything.
const (
	captionPromptRev    = "caption-v1"
	ocrPromptRev        = "ocr-v1"
	visionPromptRev     = "vision-v1"
	transcribePromptRev = "transcribe-v1"
	genericPromptRev    = "generic-v1"
	summaryPromptRev    = "summary-v1"
)

const (
	captionSystem = "You describe personal photos for a memory journal. Be concrete and brief."
	captionPrompt = "Describe this photo in one sentence, naming the main activity, any people, and the place if visible."

	ocrSystem = "You transcribe text found in images exactly as written."
	ocrPrompt = "Transcribe all legible text in this image. Return only the transcribed text. If there is no text, return nothing."

	visionSystem = "You analyze personal photos and answer with a single JSON object, no prose."
	visionPrompt = `Analyze this photo and return a JSON object with these keys:
"activity": one short phrase for what is happening,
"people": array of short descriptions of visible people,
"location": the place if recognizable, else "",
"food": array of any food or drink items,
"emotion": the overall mood in one word, else "",
"entities": array of notable objects or landmarks.`

	transcribeSystem = "You transcribe speech from recordings."
	transcribePrompt = "Transcribe this recording verbatim. Return only the transcript."

	genericSystem = "You turn transcripts and notes into a single JSON object, no prose."
	genericPrompt = `From the following content, return a JSON object with these keys:
"activity": one short phrase for what the person was doing,
"summary": one or two sentences,
"keywords": array of up to 8 keywords,
"entities": array of named people, places, or things.

Content:`

	summarySystem = "You merge observations of one continuous activity into a single episode description. Answer with a single JSON object, no prose."
)

// newModel creates the langchaingo backend shared by all providers.
func newModel(cfg config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err := ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err := anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

// New builds the provider set for the configured backend. A configuration
// problem disables enrichment rather than failing startup: the pipeline
// still runs and produces caption-free observations. A nil collector
// skips usage recording.
func New(cfg config.Config, collector *metrics.Collector, logger *slog.Logger) *Set {
	model, err := newModel(cfg)
	if err != nil {
		if logger != nil {
			logger.Warn("enrichment providers disabled", "error", err)
		}
		return DisabledSet(err.Error())
	}

	version := func(rev string) string { return cfg.LLMModel + "/" + rev }

	return &Set{
		Caption: &llmProvider{
			name: "caption", version: version(captionPromptRev), model: model,
			system: captionSystem, prompt: captionPrompt, needsBlob: true,
			collector: collector,
		},
		OCR: &llmProvider{
			name: "ocr", version: version(ocrPromptRev), model: model,
			system: ocrSystem, prompt: ocrPrompt, needsBlob: true,
			collector: collector,
		},
		Vision: &llmProvider{
			name: "vision", version: version(visionPromptRev), model: model,
			system: visionSystem, prompt: visionPrompt, needsBlob: true, wantJSON: true,
			collector: collector,
		},
		Transcribe: &llmProvider{
			name: "transcribe", version: version(transcribePromptRev), model: model,
			system: transcribeSystem, prompt: transcribePrompt, needsBlob: true,
			collector: collector,
		},
		Generic: &llmProvider{
			name: "generic-context", version: version(genericPromptRev), model: model,
			system: genericSystem, prompt: genericPrompt, wantJSON: true,
			collector: collector,
		},
		Summary: &llmSummarizer{model: model, version: version(summaryPromptRev), collector: collector},
	}
}

// tokenUsage pulls prompt and completion token counts out of a choice's
// generation info. Backends disagree on key names and integer width;
// a backend that reports nothing yields zeros.
func tokenUsage(info map[string]any) (in, out int64) {
	return infoCount(info, "PromptTokens", "InputTokens"),
		infoCount(info, "CompletionTokens", "OutputTokens")
}

func infoCount(info map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

// llmProvider implements Provider on a langchaingo model. Photo providers
// attach the media bytes as a binary part; text providers append Input.Text
// to the prompt.
type llmProvider struct {
	name      string
	version   string
	model     llms.Model
	system    string
	prompt    string
	needsBlob bool
	wantJSON  bool
	collector *metrics.Collector
}

func (p *llmProvider) recordUsage(duration time.Duration, choice *llms.ContentChoice) {
	if p.collector == nil {
		return
	}
	in, out := tokenUsage(choice.GenerationInfo)
	p.collector.RecordProviderUsage(metrics.OpProvider+":"+p.name, duration, in, out)
}

func (p *llmProvider) Name() string    { return p.name }
func (p *llmProvider) Version() string { return p.version }

func (p *llmProvider) Enrich(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if p.needsBlob && len(in.Blob) == 0 {
		return Result{Status: StatusError, Err: "no media bytes available"}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var parts []llms.ContentPart
	if p.needsBlob {
		parts = append(parts, llms.BinaryPart(in.MimeType, in.Blob))
	}
	promptText := p.prompt
	if in.Text != "" {
		promptText += "\n" + in.Text
	}
	parts = append(parts, llms.TextPart(promptText))

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.system),
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	var opts []llms.CallOption
	if p.wantJSON {
		opts = append(opts, llms.WithJSONMode())
	}

	start := time.Now()
	resp, err := p.model.GenerateContent(callCtx, messages, opts...)
	duration := time.Since(start)
	if err != nil {
		// Caller cancellation propagates; provider trouble degrades.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Result{}, err
		}
		slog.Warn("enrichment call failed", "provider", p.name, "duration_ms", duration.Milliseconds(), "error", err)
		return Result{Status: statusForError(err), Err: err.Error()}, nil
	}
	if len(resp.Choices) == 0 {
		return Result{Status: StatusError, Err: "no response choices"}, nil
	}
	p.recordUsage(duration, resp.Choices[0])

	content := strings.TrimSpace(resp.Choices[0].Content)
	slog.Debug("enrichment call complete", "provider", p.name, "duration_ms", duration.Milliseconds(), "output_len", len(content))

	result := Result{Status: StatusOK, RawText: content}
	if p.wantJSON {
		result.Parsed = parseLooseJSON(content)
	}
	return result, nil
}

// llmSummarizer implements Summarizer on the shared model.
type llmSummarizer struct {
	model     llms.Model
	version   string
	collector *metrics.Collector
}

func (s *llmSummarizer) Name() string    { return "episode-summary" }
func (s *llmSummarizer) Version() string { return s.version }

func (s *llmSummarizer) Summarize(ctx context.Context, texts []string, omitted int) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if len(texts) == 0 {
		return Summary{Status: StatusError, Err: "no observations to summarize"}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("These observations describe one continuous activity, in time order:\n")
	for _, t := range texts {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "(%d further observations omitted)\n", omitted)
	}
	b.WriteString(`
Return a JSON object with these keys:
"title": a short episode title,
"summary": two or three sentences covering the whole episode,
"keywords": array of up to 8 keywords.`)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summarySystem),
		llms.TextParts(llms.ChatMessageTypeHuman, b.String()),
	}

	start := time.Now()
	resp, err := s.model.GenerateContent(callCtx, messages, llms.WithJSONMode())
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Summary{}, err
		}
		slog.Warn("episode summary failed", "duration_ms", duration.Milliseconds(), "error", err)
		return Summary{Status: statusForError(err), Err: err.Error()}, nil
	}
	if len(resp.Choices) == 0 {
		return Summary{Status: StatusError, Err: "no response choices"}, nil
	}
	if s.collector != nil {
		in, out := tokenUsage(resp.Choices[0].GenerationInfo)
		s.collector.RecordProviderUsage(metrics.OpProvider+":"+s.Name(), duration, in, out)
	}

	parsed := parseLooseJSON(resp.Choices[0].Content)
	summary := Summary{
		Status:   StatusOK,
		Title:    StringValue(parsed, "title"),
		Summary:  StringValue(parsed, "summary"),
		Keywords: StringList(parsed, "keywords"),
	}
	if summary.Title == "" && summary.Summary == "" {
		return Summary{Status: StatusError, Err: "unparseable summary output"}, nil
	}

	slog.Debug("episode summary complete", "duration_ms", duration.Milliseconds(), "inputs", len(texts), "omitted", omitted)
	return summary, nil
}
