package chunking

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

var (
	// ErrInvalidChunkConfig is returned before any work when the chunk size
	// and overlap cannot produce well-formed chunks.
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

	// ErrEmbeddingCount is returned when the provider does not return
	// exactly one vector per chunk.
	ErrEmbeddingCount = errors.New("embedding count mismatch")
)

// ParseAndEmbed extracts the text of a PDF, splits it into overlapping
// chunks and embeds them through provider. With ReturnVectorStore (the
// default) the result carries an index; otherwise it carries the ordered
// (document, vector) pairs. Provider errors are returned unchanged in the
// chain; nothing is retried here.
func ParseAndEmbed(ctx context.Context, pdfBytes []byte, provider Provider, opts ...Option) (*Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	docs, err := splitDocuments(pdfBytes, o)
	if err != nil {
		return nil, err
	}

	if o.ReturnVectorStore {
		index, err := provider.BuildIndex(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("build index: %w", err)
		}
		return &Result{Index: index}, nil
	}

	chunks, err := embedDocuments(ctx, docs, provider)
	if err != nil {
		return nil, err
	}
	return &Result{Chunks: chunks}, nil
}

// BuildIndex is ParseAndEmbed returning the vector store.
func BuildIndex(ctx context.Context, pdfBytes []byte, provider Provider, opts ...Option) (vectorstores.VectorStore, error) {
	res, err := ParseAndEmbed(ctx, pdfBytes, provider, append(opts[:len(opts):len(opts)], WithReturnVectorStore(true))...)
	if err != nil {
		return nil, err
	}
	return res.Index, nil
}

// EmbedChunks is ParseAndEmbed returning (document, vector) pairs in chunk order.
func EmbedChunks(ctx context.Context, pdfBytes []byte, provider Provider, opts ...Option) ([]EmbeddedChunk, error) {
	res, err := ParseAndEmbed(ctx, pdfBytes, provider, append(opts[:len(opts):len(opts)], WithReturnVectorStore(false))...)
	if err != nil {
		return nil, err
	}
	return res.Chunks, nil
}

// SplitDocuments runs extraction and splitting only. It never calls an
// embedding provider.
func SplitDocuments(pdfBytes []byte, opts ...Option) ([]schema.Document, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return splitDocuments(pdfBytes, o)
}

// Validate reports whether size and overlap describe a usable splitter.
func Validate(chunkSize, chunkOverlap int) error {
	switch {
	case chunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkConfig, chunkSize)
	case chunkOverlap < 0:
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidChunkConfig, chunkOverlap)
	case chunkOverlap >= chunkSize:
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			ErrInvalidChunkConfig, chunkOverlap, chunkSize)
	}
	return nil
}

func splitDocuments(pdfBytes []byte, o Options) ([]schema.Document, error) {
	if o.Splitter == nil {
		if err := Validate(o.ChunkSize, o.ChunkOverlap); err != nil {
			return nil, err
		}
	}

	text, err := o.Extractor.ExtractText(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	chunks, err := o.splitter().SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	docs := make([]schema.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = schema.Document{
			PageContent: chunk,
			Metadata:    o.metadataFor(i),
		}
	}
	return docs, nil
}

func (o Options) metadataFor(i int) map[string]any {
	md := make(map[string]any, len(o.Metadata)+1)
	if o.Metadata == nil {
		return md
	}
	for k, v := range o.Metadata {
		md[k] = v
	}
	md["chunk"] = i
	return md
}

func embedDocuments(ctx context.Context, docs []schema.Document, provider Provider) ([]EmbeddedChunk, error) {
	if len(docs) == 0 {
		return []EmbeddedChunk{}, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}

	vectors, err := provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrEmbeddingCount, len(docs), len(vectors))
	}

	result := make([]EmbeddedChunk, len(docs))
	for i, doc := range docs {
		result[i] = EmbeddedChunk{
			Document: doc,
			Vector:   vectors[i],
		}
	}
	return result, nil
}
