package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel records the last GenerateContent call and plays back a canned
// response, so provider behavior is testable without a backend.
type fakeModel struct {
	resp      string
	err       error
	noChoices bool
	genInfo   map[string]any

	calls    int
	messages []llms.MessageContent
	jsonMode bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages

	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	f.jsonMode = opts.JSONMode

	if f.err != nil {
		return nil, f.err
	}
	if f.noChoices {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.resp, GenerationInfo: f.genInfo}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.resp, f.err
}

// humanText joins the text parts of the human message.
func humanText(t *testing.T, messages []llms.MessageContent) string {
	t.Helper()
	if len(messages) != 2 {
		t.Fatalf("expected system+human messages, got %d", len(messages))
	}
	var b strings.Builder
	for _, part := range messages[1].Parts {
		if tc, ok := part.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestEnrichTextProvider(t *testing.T) {
	fake := &fakeModel{resp: `{"activity":"museum visit","summary":"Walked the modern art wing.","keywords":["museum","art"]}`}
	p := &llmProvider{
		name: "generic-context", version: "test/v1", model: fake,
		system: genericSystem, prompt: genericPrompt, wantJSON: true,
	}

	res, err := p.Enrich(context.Background(), Input{Text: "visited the museum with Ana"})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q, want ok (err %q)", res.Status, res.Err)
	}
	if got := StringValue(res.Parsed, "activity"); got != "museum visit" {
		t.Errorf("parsed activity = %q", got)
	}
	if !fake.jsonMode {
		t.Error("expected JSON mode requested")
	}
	if fake.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("first message role = %q, want system", fake.messages[0].Role)
	}
	text := humanText(t, fake.messages)
	if !strings.Contains(text, "visited the museum with Ana") {
		t.Errorf("prompt missing input text: %q", text)
	}
}

func TestEnrichAttachesMedia(t *testing.T) {
	fake := &fakeModel{resp: "  A latte on a wooden table.  "}
	p := &llmProvider{
		name: "caption", version: "test/v1", model: fake,
		system: captionSystem, prompt: captionPrompt, needsBlob: true,
	}

	blob := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	res, err := p.Enrich(context.Background(), Input{MimeType: "image/jpeg", Blob: blob})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.Status != StatusOK || res.RawText != "A latte on a wooden table." {
		t.Fatalf("result = %+v", res)
	}
	if res.Parsed != nil {
		t.Error("caption provider should not parse JSON")
	}

	bin, ok := fake.messages[1].Parts[0].(llms.BinaryContent)
	if !ok {
		t.Fatalf("first human part = %T, want BinaryContent", fake.messages[1].Parts[0])
	}
	if bin.MIMEType != "image/jpeg" || len(bin.Data) != len(blob) {
		t.Errorf("binary part = %s (%d bytes)", bin.MIMEType, len(bin.Data))
	}
}

func TestEnrichMissingBlob(t *testing.T) {
	fake := &fakeModel{resp: "unused"}
	p := &llmProvider{
		name: "ocr", version: "test/v1", model: fake,
		system: ocrSystem, prompt: ocrPrompt, needsBlob: true,
	}

	res, err := p.Enrich(context.Background(), Input{MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.Status != StatusError || res.Err == "" {
		t.Errorf("result = %+v, want error status", res)
	}
	if fake.calls != 0 {
		t.Errorf("model called %d times, want 0", fake.calls)
	}
}

func TestEnrichProviderFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"transient failure", errors.New("connection refused"), StatusError},
		{"rate limit", errors.New("rate limit exceeded"), StatusError},
		{"bad credentials", errors.New("invalid api key"), StatusDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeModel{err: tt.err}
			p := &llmProvider{
				name: "caption", version: "test/v1", model: fake,
				system: captionSystem, prompt: captionPrompt, needsBlob: true,
			}

			res, err := p.Enrich(context.Background(), Input{MimeType: "image/png", Blob: []byte{1}})
			if err != nil {
				t.Fatalf("provider errors must land in the result, got %v", err)
			}
			if res.Status != tt.status {
				t.Errorf("status = %q, want %q", res.Status, tt.status)
			}
			if !strings.Contains(res.Err, tt.err.Error()) {
				t.Errorf("result error %q missing cause %q", res.Err, tt.err)
			}
		})
	}
}

func TestEnrichCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &llmProvider{
		name: "caption", version: "test/v1", model: &fakeModel{resp: "x"},
		system: captionSystem, prompt: captionPrompt, needsBlob: true,
	}
	if _, err := p.Enrich(ctx, Input{MimeType: "image/png", Blob: []byte{1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEnrichNoChoices(t *testing.T) {
	p := &llmProvider{
		name: "generic-context", version: "test/v1", model: &fakeModel{noChoices: true},
		system: genericSystem, prompt: genericPrompt,
	}
	res, err := p.Enrich(context.Background(), Input{Text: "hi"})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %q, want error", res.Status)
	}
}

func TestSummarize(t *testing.T) {
	fake := &fakeModel{resp: `{"title":"Coffee with Maya","summary":"Caught up over lattes downtown.","keywords":["coffee","maya"]}`}
	s := &llmSummarizer{model: fake, version: "test/v1"}

	sum, err := s.Summarize(context.Background(), []string{"Latte at Blue Bottle", "Chat with Maya"}, 3)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Status != StatusOK {
		t.Fatalf("status = %q (err %q)", sum.Status, sum.Err)
	}
	if sum.Title != "Coffee with Maya" || len(sum.Keywords) != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if !fake.jsonMode {
		t.Error("expected JSON mode requested")
	}

	text := humanText(t, fake.messages)
	for _, want := range []string{"Latte at Blue Bottle", "Chat with Maya", "(3 further observations omitted)"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSummarizeNoOmissionNote(t *testing.T) {
	fake := &fakeModel{resp: `{"title":"Walk","summary":"Short walk."}`}
	s := &llmSummarizer{model: fake, version: "test/v1"}

	if _, err := s.Summarize(context.Background(), []string{"Walked the dog"}, 0); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if strings.Contains(humanText(t, fake.messages), "omitted") {
		t.Error("omission note present for omitted=0")
	}
}

func TestSummarizeUnparseable(t *testing.T) {
	s := &llmSummarizer{model: &fakeModel{resp: "I cannot summarize that."}, version: "test/v1"}
	sum, err := s.Summarize(context.Background(), []string{"one"}, 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Status != StatusError {
		t.Errorf("status = %q, want error", sum.Status)
	}
}

func TestSummarizeEmptyInput(t *testing.T) {
	fake := &fakeModel{resp: "unused"}
	s := &llmSummarizer{model: fake, version: "test/v1"}
	sum, err := s.Summarize(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Status != StatusError || fake.calls != 0 {
		t.Errorf("summary = %+v, calls = %d", sum, fake.calls)
	}
}

func TestNewDisabledOnMissingKey(t *testing.T) {
	set := New(config.Config{LLMProvider: config.ProviderOpenAI, LLMModel: "gpt-4o-mini"}, nil, nil)

	res, err := set.Caption.Enrich(context.Background(), Input{MimeType: "image/png", Blob: []byte{1}})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.Status != StatusDisabled {
		t.Errorf("status = %q, want disabled", res.Status)
	}
	if set.Caption.Version() != "disabled" {
		t.Errorf("version = %q, want disabled", set.Caption.Version())
	}
}

func TestNewDisabledOnUnknownProvider(t *testing.T) {
	set := New(config.Config{LLMProvider: "carrier-pigeon"}, nil, nil)

	sum, err := set.Summary.Summarize(context.Background(), []string{"x"}, 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Status != StatusDisabled || !strings.Contains(sum.Err, "carrier-pigeon") {
		t.Errorf("summary = %+v", sum)
	}
}

func TestEnrichRecordsProviderUsage(t *testing.T) {
	fake := &fakeModel{
		resp: "A latte on a wooden table.",
		// OpenAI-shaped generation info.
		genInfo: map[string]any{"PromptTokens": 120, "CompletionTokens": 18},
	}
	collector := metrics.NewCollector()
	p := &llmProvider{
		name: "caption", version: "test/v1", model: fake,
		system: captionSystem, prompt: captionPrompt, needsBlob: true,
		collector: collector,
	}

	if _, err := p.Enrich(context.Background(), Input{MimeType: "image/png", Blob: []byte{1}}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	op, ok := collector.Snapshot().Operations["provider:caption"]
	if !ok {
		t.Fatal("no provider:caption operation recorded")
	}
	if op.Count != 1 {
		t.Fatalf("count = %d, want 1", op.Count)
	}
	if op.TotalInputTokens == nil || *op.TotalInputTokens != 120 {
		t.Errorf("input tokens = %v, want 120", op.TotalInputTokens)
	}
	if op.TotalOutputTokens == nil || *op.TotalOutputTokens != 18 {
		t.Errorf("output tokens = %v, want 18", op.TotalOutputTokens)
	}
}

func TestEnrichFailureRecordsNoUsage(t *testing.T) {
	collector := metrics.NewCollector()
	p := &llmProvider{
		name: "caption", version: "test/v1", model: &fakeModel{err: errors.New("connection refused")},
		system: captionSystem, prompt: captionPrompt, needsBlob: true,
		collector: collector,
	}

	if _, err := p.Enrich(context.Background(), Input{MimeType: "image/png", Blob: []byte{1}}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if ops := collector.Snapshot().Operations; len(ops) != 0 {
		t.Errorf("operations recorded for failed call: %v", ops)
	}
}

func TestSummarizeRecordsProviderUsage(t *testing.T) {
	fake := &fakeModel{
		resp: `{"title":"Walk","summary":"Short walk."}`,
		// Anthropic-shaped generation info.
		genInfo: map[string]any{"InputTokens": 64, "OutputTokens": 12},
	}
	collector := metrics.NewCollector()
	s := &llmSummarizer{model: fake, version: "test/v1", collector: collector}

	if _, err := s.Summarize(context.Background(), []string{"Walked the dog"}, 0); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	op, ok := collector.Snapshot().Operations["provider:episode-summary"]
	if !ok {
		t.Fatal("no provider:episode-summary operation recorded")
	}
	if op.TotalInputTokens == nil || *op.TotalInputTokens != 64 {
		t.Errorf("input tokens = %v, want 64", op.TotalInputTokens)
	}
	if op.TotalOutputTokens == nil || *op.TotalOutputTokens != 12 {
		t.Errorf("output tokens = %v, want 12", op.TotalOutputTokens)
	}
}

func TestTokenUsageKeyShapes(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]any
		in, out int64
	}{
		{"openai ints", map[string]any{"PromptTokens": 10, "CompletionTokens": 3}, 10, 3},
		{"anthropic ints", map[string]any{"InputTokens": 7, "OutputTokens": 2}, 7, 2},
		{"json floats", map[string]any{"PromptTokens": float64(42), "CompletionTokens": float64(9)}, 42, 9},
		{"missing", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := tokenUsage(tt.info)
			if in != tt.in || out != tt.out {
				t.Errorf("tokenUsage = (%d, %d), want (%d, %d)", in, out, tt.in, tt.out)
			}
		})
	}
}

func TestDisabledSetReason(t *testing.T) {
	set := DisabledSet("no backend configured")

	for _, p := range []Provider{set.Caption, set.OCR, set.Vision, set.Transcribe, set.Generic} {
		res, err := p.Enrich(context.Background(), Input{Text: "x"})
		if err != nil {
			t.Fatalf("%s: %v", p.Name(), err)
		}
		if res.Status != StatusDisabled || res.Err != "no backend configured" {
			t.Errorf("%s result = %+v", p.Name(), res)
		}
	}
}
