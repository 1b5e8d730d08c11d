package qdrantdb

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

// Factory creates one Qdrant collection per index it hands out.
type Factory struct {
	Client *qdrant.Client
	logger *zap.Logger
	prefix string
}

func NewClient(host string, port int) (*qdrant.Client, error) {
	return qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port, // gRPC port
	})
}

func NewFactory(client *qdrant.Client, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		Client: client,
		logger: logger,
		prefix: CollectionPrefix,
	}
}

// NewIndex returns an index bound to a fresh collection name. The collection
// is created on the first AddDocuments call, once the vector size is known.
func (f *Factory) NewIndex(_ context.Context, embedder embeddings.Embedder) (vectorstores.VectorStore, error) {
	return newIndex(f.Client, collectionName(f.prefix), embedder, f.logger), nil
}
