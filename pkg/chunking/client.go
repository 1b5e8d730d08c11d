package chunking

import (
	"context"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// EmbeddedChunk pairs one chunk's document record with its embedding.
type EmbeddedChunk struct {
	Document schema.Document `json:"document"`
	Vector   []float32       `json:"vector"`
}

// Result holds the output of ParseAndEmbed. Index is set when the vector
// store was requested, Chunks otherwise.
type Result struct {
	Index  vectorstores.VectorStore
	Chunks []EmbeddedChunk
}

// Provider embeds batches of text and builds similarity indexes.
// It is supplied by the caller; the pipeline never constructs one.
type Provider interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// BuildIndex embeds docs and returns a store that supports similarity search.
	BuildIndex(ctx context.Context, docs []schema.Document) (vectorstores.VectorStore, error)
}

// PDFExtractor turns PDF bytes into text. *processor.Client implements it.
type PDFExtractor interface {
	ExtractText(data []byte) (string, error)
}
