package embedding

import (
	"context"
	"errors"
	"math"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type EmbeddingRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize,omitempty"`
	Truncate  bool     `json:"truncate,omitempty"`
}

type EmbeddingResponse [][]float32

// IndexFactory creates an empty vector store that embeds with embedder.
type IndexFactory interface {
	NewIndex(ctx context.Context, embedder embeddings.Embedder) (vectorstores.VectorStore, error)
}

// Provider combines a batch embedder with an index factory. It satisfies
// the pipeline's provider contract.
type Provider struct {
	Embedder embeddings.Embedder
	Indexes  IndexFactory
}

func NewProvider(embedder embeddings.Embedder, indexes IndexFactory) *Provider {
	return &Provider{
		Embedder: embedder,
		Indexes:  indexes,
	}
}

// If you send 3 texts, you'll get 3 vectors.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return p.Embedder.EmbedDocuments(ctx, texts)
}

func (p *Provider) BuildIndex(ctx context.Context, docs []schema.Document) (vectorstores.VectorStore, error) {
	index, err := p.Indexes.NewIndex(ctx, p.Embedder)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return index, nil
	}
	if _, err := index.AddDocuments(ctx, docs); err != nil {
		if d, ok := index.(dropper); ok {
			if derr := d.Drop(context.WithoutCancel(ctx)); derr != nil {
				return nil, errors.Join(err, derr)
			}
		}
		return nil, err
	}
	return index, nil
}

// dropper is implemented by indexes that hold remote resources.
type dropper interface {
	Drop(ctx context.Context) error
}

func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
