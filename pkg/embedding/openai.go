package embedding

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig points at an OpenAI or Azure OpenAI embedding deployment.
type OpenAIConfig struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
	Azure      bool
	BatchSize  int
}

// NewOpenAI returns a batching embedder backed by the OpenAI embeddings API.
// With Azure set, Deployment names the Azure deployment and Endpoint is required.
func NewOpenAI(cfg OpenAIConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: missing api key")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
	}
	if cfg.Deployment != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Deployment))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	if cfg.Azure {
		if cfg.Endpoint == "" || cfg.Deployment == "" {
			return nil, errors.New("openai: azure requires endpoint and deployment")
		}
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
			openai.WithModel(cfg.Deployment),
		)
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: create client: %w", err)
	}

	return newBatchEmbedder(llm, cfg.BatchSize)
}

// NewTEIEmbedder returns a batching embedder backed by a TEI server.
func NewTEIEmbedder(baseURL string, batchSize int) (*embeddings.EmbedderImpl, error) {
	return newBatchEmbedder(NewTEI(baseURL), batchSize)
}

func newBatchEmbedder(client embeddings.EmbedderClient, batchSize int) (*embeddings.EmbedderImpl, error) {
	opts := []embeddings.Option{
		embeddings.WithStripNewLines(true),
	}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	return embeddings.NewEmbedder(client, opts...)
}
