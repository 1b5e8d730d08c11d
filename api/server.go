package api

import (
	"net/http"
	"strconv"
	"time"

	"factsheet/pkg/chunking"
	"factsheet/pkg/extraction"
	processor "factsheet/process"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server exposes extraction, embedding and search over uploaded PDFs.
// Every request works on its own upload; nothing is kept between requests.
type Server struct {
	provider       chunking.Provider
	pdfs           *processor.Client
	extractor      *extraction.Extractor
	chunkSize      int
	chunkOverlap   int
	maxUploadBytes int64
	logger         *zap.Logger
}

type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int64

	// PDFs defaults to a client over the ledongthuc extractor.
	PDFs *processor.Client
	// Extractor enables /api/structured when set.
	Extractor *extraction.Extractor
}

// NewServer creates a new API server
func NewServer(provider chunking.Provider, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	pdfs := cfg.PDFs
	if pdfs == nil {
		pdfs = processor.NewClient(processor.NewLedongthucExtractor())
	}
	return &Server{
		provider:       provider,
		pdfs:           pdfs,
		extractor:      cfg.Extractor,
		chunkSize:      cfg.ChunkSize,
		chunkOverlap:   cfg.ChunkOverlap,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/extract", s.ExtractHandler)
		r.Post("/embed", s.EmbedHandler)
		r.Post("/search", s.SearchHandler)
		r.Post("/structured", s.StructuredHandler)
	})

	return r
}

// Start starts the API server
func (s *Server) Start(port int) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting API server", zap.Int("port", port))
	return srv.ListenAndServe()
}
