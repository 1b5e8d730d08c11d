package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

const sheetJSON = `{"year": 2024, "total_incidents": 147, "nuclear_material_incidents": 6,
"radioactive_material_incidents": 141,
"incidents_by_material": {"uranium": 4, "plutonium": 1, "medical_isotopes": 30},
"incidents_by_group": {"theft_or_loss": 28, "unauthorized_activities": 5, "other": 114}}`

// scriptedModel replies with one entry of replies per call; the last entry
// repeats once the script runs out.
type scriptedModel struct {
	replies  []string
	err      error
	calls    int
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := m.replies[min(m.calls, len(m.replies))-1]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestJSONBlock(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected string
		err      error
	}{
		{"SurroundingText", `Hello {"foo": 1, "bar": 2} goodbye`, `{"foo": 1, "bar": 2}`, nil},
		{"Fenced", "```json\n{\"year\": 2024}\n```", `{"year": 2024}`, nil},
		{"Nested", `{"a": {"b": 1}} trailing`, `{"a": {"b": 1}}`, nil},
		{"NoJSON", "No braces here", "", ErrNoJSON},
		{"OpenOnly", "{ never closed", "", ErrNoJSON},
		{"Reversed", "} backwards {", "", ErrNoJSON},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			block, err := JSONBlock(tc.text)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected error %v, got %v", tc.err, err)
			}
			if block != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, block)
			}
		})
	}
}

func TestExtract_RetriesUntilJSON(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"I could not find the numbers.",
		"Here you go:\n" + sheetJSON + "\nLet me know if you need more.",
	}}
	e := NewExtractor(model, nil)

	sheet, err := e.Extract(context.Background(), "ITDB 2024 fact sheet text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.calls != 2 {
		t.Errorf("expected 2 calls, got %d", model.calls)
	}
	if sheet.Year != 2024 || sheet.TotalIncidents != 147 ||
		sheet.IncidentsByMaterial.MedicalIsotopes != 30 || sheet.IncidentsByGroup.Other != 114 {
		t.Errorf("unexpected fact sheet: %+v", sheet)
	}

	if len(model.messages) != 2 || model.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Fatalf("expected system and user messages, got %+v", model.messages)
	}
	prompt := model.messages[1].Parts[0].(llms.TextContent).Text
	for _, want := range []string{"ITDB 2024 fact sheet text", `"incidents_by_group"`, "--- END FACT SHEET ---"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
	if model.options.Temperature != 0 || model.options.MaxTokens != 1024 || model.options.TopP != 1 {
		t.Errorf("unexpected call options: %+v", model.options)
	}
}

func TestExtract_GivesUp(t *testing.T) {
	testCases := []struct {
		name     string
		model    *scriptedModel
		opts     []Option
		calls    int
		expected error
	}{
		{
			name:     "NoJSON",
			model:    &scriptedModel{replies: []string{"no structured data here"}},
			calls:    3,
			expected: ErrNoJSON,
		},
		{
			name:  "WrongTypes",
			model: &scriptedModel{replies: []string{`{"year": "twenty"}`}},
			calls: 3,
		},
		{
			name:     "ModelError",
			model:    &scriptedModel{err: errors.New("deployment not found")},
			opts:     []Option{WithMaxRetries(5)},
			calls:    5,
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewExtractor(tc.model, nil, tc.opts...).Extract(context.Background(), "text")
			if !errors.Is(err, ErrExtractionFailed) {
				t.Fatalf("expected ErrExtractionFailed, got %v", err)
			}
			if tc.expected != nil && !errors.Is(err, tc.expected) {
				t.Errorf("expected %v in chain, got %v", tc.expected, err)
			}
			if tc.model.calls != tc.calls {
				t.Errorf("expected %d calls, got %d", tc.calls, tc.model.calls)
			}
		})
	}
}

func TestExtract_StopsOnCanceledContext(t *testing.T) {
	model := &scriptedModel{replies: []string{sheetJSON}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(model, nil).Extract(ctx, "text")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if model.calls != 1 {
		t.Errorf("expected a single call, got %d", model.calls)
	}
}

func TestDocument(t *testing.T) {
	sheet := &FactSheet{Year: 2023, TotalIncidents: 168}
	doc, err := Document(sheet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Metadata["source"] != SourceStructured {
		t.Errorf("expected source %q, got %v", SourceStructured, doc.Metadata)
	}

	var back FactSheet
	if err := json.Unmarshal([]byte(doc.PageContent), &back); err != nil {
		t.Fatalf("document content is not JSON: %v", err)
	}
	if back != *sheet {
		t.Errorf("expected %+v, got %+v", *sheet, back)
	}
}

func TestNewChatModel(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": sheetJSON},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	llm, err := NewChatModel(ChatConfig{APIKey: "test", Endpoint: srv.URL, Deployment: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sheet, err := NewExtractor(llm, nil).Extract(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.Year != 2024 {
		t.Errorf("unexpected fact sheet: %+v", sheet)
	}
	if !strings.HasSuffix(path, "/chat/completions") {
		t.Errorf("unexpected request path %q", path)
	}

	if _, err := NewChatModel(ChatConfig{APIKey: "k", Deployment: "d", Azure: true}); err == nil {
		t.Error("expected azure without endpoint to fail")
	}
}
