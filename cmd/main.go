package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"factsheet/api"
	"factsheet/config"
	"factsheet/pkg/chunking"
	"factsheet/pkg/embedding"
	"factsheet/pkg/extraction"
	"factsheet/pkg/qdrantdb"
	"factsheet/pkg/vectorindex"
	processor "factsheet/process"

	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

func main() {
	file := flag.String("file", "", "print the text of this PDF, or search it with -query, instead of serving")
	query := flag.String("query", "", "question to search for in -file")
	topK := flag.Int("k", 4, "number of chunks to return with -file")
	flag.Parse()

	// =========
	// Config
	// =========
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// =========
	// Logging
	// =========
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	// =========
	// Embedding Client
	// =========
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		logger.Fatal("failed to create embedder", zap.Error(err))
	}
	if cfg.Embedding.Provider != "hash" {
		rc := embedding.DefaultResilientConfig()
		rc.RequestsPerSecond = cfg.Embedding.RPS
		rc.MaxRetries = cfg.Embedding.MaxRetries
		embedder = embedding.NewResilient(embedder, rc, logger)
	}

	// =========
	// Vector index
	// =========
	var indexes embedding.IndexFactory = vectorindex.MemoryFactory{}
	if cfg.Index.Backend == "qdrant" {
		qc, err := qdrantdb.NewClient(cfg.Index.QdrantHost, cfg.Index.QdrantPort)
		if err != nil {
			logger.Fatal("failed to initialize qdrant", zap.Error(err))
		}
		defer qc.Close()
		indexes = qdrantdb.NewFactory(qc, logger)
	}

	provider := embedding.NewProvider(embedder, indexes)
	pdfs := processor.NewClient(processor.NewLedongthucExtractor())

	// =========
	// Structured extraction
	// =========
	var extractor *extraction.Extractor
	if cfg.LLM.Enabled() {
		llm, err := extraction.NewChatModel(extraction.ChatConfig{
			APIKey:     cfg.LLM.APIKey,
			Endpoint:   cfg.LLM.Endpoint,
			Deployment: cfg.LLM.Deployment,
			APIVersion: cfg.LLM.APIVersion,
			Azure:      cfg.LLM.Provider == "azure",
		})
		if err != nil {
			logger.Fatal("failed to create chat model", zap.Error(err))
		}
		extractor = extraction.NewExtractor(llm, logger,
			extraction.WithMaxRetries(cfg.LLM.MaxRetries),
			extraction.WithTemperature(cfg.LLM.Temperature),
			extraction.WithMaxTokens(cfg.LLM.MaxTokens),
		)
	}

	if *file != "" {
		if err := runFile(pdfs, provider, cfg, *file, *query, *topK); err != nil {
			logger.Fatal("search failed", zap.String("file", *file), zap.Error(err))
		}
		return
	}

	// =========
	// HTTP
	// =========
	server := api.NewServer(provider, api.Config{
		ChunkSize:      cfg.Chunking.ChunkSize,
		ChunkOverlap:   cfg.Chunking.ChunkOverlap,
		MaxUploadBytes: cfg.MaxUploadBytes,
		PDFs:           pdfs,
		Extractor:      extractor,
	}, logger)
	if err := server.Start(cfg.AppPort); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newEmbedder(cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case "azure", "openai":
		return embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.Endpoint,
			Deployment: cfg.Deployment,
			APIVersion: cfg.APIVersion,
			Azure:      cfg.Provider == "azure",
			BatchSize:  cfg.BatchSize,
		})
	case "tei":
		return embedding.NewTEIEmbedder(cfg.TEIURL, cfg.BatchSize)
	case "hash":
		return embedding.NewHashing(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// runFile prints the text of the PDF at path, or with a query the k chunks
// most similar to it.
func runFile(pdfs *processor.Client, provider chunking.Provider, cfg *config.Config, path, query string, k int) error {
	if query == "" {
		text, err := pdfs.ExtractTextFromFile(path)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	index, err := chunking.BuildIndex(ctx, data, provider,
		chunking.WithChunkSize(cfg.Chunking.ChunkSize),
		chunking.WithChunkOverlap(cfg.Chunking.ChunkOverlap),
		chunking.WithMetadata(map[string]any{"source": path}),
		chunking.WithExtractor(pdfs),
	)
	if err != nil {
		return err
	}
	if idx, ok := index.(*qdrantdb.Index); ok {
		defer idx.Drop(context.Background())
	}

	docs, err := index.SimilaritySearch(ctx, query, k)
	if err != nil {
		return err
	}
	for i, d := range docs {
		fmt.Printf("%d. [%.3f] %s\n\n", i+1, d.Score, d.PageContent)
	}
	return nil
}
