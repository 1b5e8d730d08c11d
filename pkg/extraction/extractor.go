package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// SourceStructured marks the fact sheet document when it is added to an index.
const SourceStructured = "structured_json"

var (
	// ErrNoJSON is returned when a model reply holds no JSON object.
	ErrNoJSON = errors.New("no JSON object found in the model response")

	// ErrExtractionFailed is returned once every attempt has failed. The
	// last attempt's error is kept in the chain.
	ErrExtractionFailed = errors.New("structured extraction failed")
)

// FactSheet is the canonical form of an ITDB incident fact sheet.
type FactSheet struct {
	Year                         int                 `json:"year"`
	TotalIncidents               int                 `json:"total_incidents"`
	NuclearMaterialIncidents     int                 `json:"nuclear_material_incidents"`
	RadioactiveMaterialIncidents int                 `json:"radioactive_material_incidents"`
	IncidentsByMaterial          IncidentsByMaterial `json:"incidents_by_material"`
	IncidentsByGroup             IncidentsByGroup    `json:"incidents_by_group"`
}

type IncidentsByMaterial struct {
	Uranium         int `json:"uranium"`
	Plutonium       int `json:"plutonium"`
	MedicalIsotopes int `json:"medical_isotopes"`
}

type IncidentsByGroup struct {
	TheftOrLoss            int `json:"theft_or_loss"`
	UnauthorizedActivities int `json:"unauthorized_activities"`
	Other                  int `json:"other"`
}

const factSheetSchema = `{
  "year": "integer - 4-digit year of the fact sheet",
  "total_incidents": "integer total number of incidents reported",
  "nuclear_material_incidents": "integer incidents involving nuclear material",
  "radioactive_material_incidents": "integer incidents involving other radioactive material",
  "incidents_by_material": {
    "uranium": "integer",
    "plutonium": "integer",
    "medical_isotopes": "integer"
  },
  "incidents_by_group": {
    "theft_or_loss": "integer",
    "unauthorized_activities": "integer",
    "other": "integer"
  }
}`

const systemPrompt = "You are a data-extraction assistant. " +
	"Respond only with a JSON object matching the schema provided. " +
	"Do not output any explanatory text."

// Extractor turns raw fact sheet text into a FactSheet with a chat model.
type Extractor struct {
	llm         llms.Model
	maxRetries  int
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

type Option func(*Extractor)

// WithMaxRetries sets how many model calls are made before giving up.
func WithMaxRetries(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(e *Extractor) {
		e.temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

func NewExtractor(llm llms.Model, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		llm:        llm,
		maxRetries: 3,
		maxTokens:  1024,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract asks the model for the fact sheet of rawText. Replies that hold no
// JSON object or do not decode into a FactSheet count as failed attempts.
func (e *Extractor) Extract(ctx context.Context, rawText string) (*FactSheet, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(rawText)),
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		sheet, err := e.attempt(ctx, messages)
		if err == nil {
			return sheet, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, errors.Join(err, ctx.Err()))
		}
		e.logger.Warn("structured extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", e.maxRetries),
			zap.Error(err))
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExtractionFailed, e.maxRetries, lastErr)
}

func (e *Extractor) attempt(ctx context.Context, messages []llms.MessageContent) (*FactSheet, error) {
	resp, err := e.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(e.temperature),
		llms.WithMaxTokens(e.maxTokens),
		llms.WithTopP(1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	block, err := JSONBlock(resp.Choices[0].Content)
	if err != nil {
		return nil, err
	}

	var sheet FactSheet
	if err := json.Unmarshal([]byte(block), &sheet); err != nil {
		return nil, fmt.Errorf("decode fact sheet: %w", err)
	}
	return &sheet, nil
}

// JSONBlock returns the text from the first '{' to the last '}'.
func JSONBlock(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// Document renders sheet as an indexable document tagged with
// SourceStructured.
func Document(sheet *FactSheet) (schema.Document, error) {
	data, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return schema.Document{}, err
	}
	return schema.Document{
		PageContent: string(data),
		Metadata:    map[string]any{"source": SourceStructured},
	}, nil
}

func buildPrompt(rawText string) string {
	var b strings.Builder
	b.WriteString("The following is an ITDB fact sheet. Parse its contents and output ")
	b.WriteString("only a JSON object that matches this schema exactly, with no additional ")
	b.WriteString("keys and no prose:\n\n")
	b.WriteString(factSheetSchema)
	b.WriteString("\n\n--- BEGIN FACT SHEET ---\n")
	b.WriteString(rawText)
	b.WriteString("\n--- END FACT SHEET ---")
	return b.String()
}
