package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"factsheet/pkg/chunking"
	"factsheet/pkg/extraction"
	processor "factsheet/process"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

const defaultTopK = 4

type ExtractResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

type ChunkResponse struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
	Score    float32        `json:"score,omitempty"`
}

type EmbedResponse struct {
	Chunks []ChunkResponse `json:"chunks"`
}

type SearchResponse struct {
	Query   string          `json:"query"`
	Results []ChunkResponse `json:"results"`
}

type StructuredResponse struct {
	Data    *extraction.FactSheet `json:"data"`
	Query   string                `json:"query,omitempty"`
	Results []ChunkResponse       `json:"results,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// dropper is implemented by indexes that hold remote resources.
type dropper interface {
	Drop(ctx context.Context) error
}

// ExtractHandler returns the plain text of the uploaded PDF
func (s *Server) ExtractHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.readPDF(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.pdfs.ExtractDocument(data)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, ExtractResponse{Text: doc.Text, Pages: doc.Pages})
}

// EmbedHandler returns every chunk of the uploaded PDF with its vector
func (s *Server) EmbedHandler(w http.ResponseWriter, r *http.Request) {
	opts, err := s.chunkOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := s.readPDF(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	chunks, err := chunking.EmbedChunks(r.Context(), data, s.provider, append(opts, chunking.WithExtractor(s.pdfs))...)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := EmbedResponse{Chunks: make([]ChunkResponse, len(chunks))}
	for i, c := range chunks {
		resp.Chunks[i] = ChunkResponse{
			Content:  c.Document.PageContent,
			Metadata: c.Document.Metadata,
			Vector:   c.Vector,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchHandler indexes the uploaded PDF and returns the chunks most
// similar to the q parameter
func (s *Server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing q parameter"))
		return
	}
	k, err := intParam(r, "k", defaultTopK)
	if err != nil || k <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid k parameter"))
		return
	}
	opts, err := s.chunkOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := s.readPDF(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	index, err := chunking.BuildIndex(r.Context(), data, s.provider, append(opts, chunking.WithExtractor(s.pdfs))...)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	docs, err := s.search(r.Context(), index, query, k)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Results: toChunks(docs)})
}

// StructuredHandler extracts the fact sheet of the uploaded PDF as JSON.
// With a q parameter the PDF is also indexed together with the JSON
// document, and the chunks most similar to q are returned.
func (s *Server) StructuredHandler(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("structured extraction is not configured"))
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	k, err := intParam(r, "k", defaultTopK)
	if err != nil || k <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid k parameter"))
		return
	}
	opts, err := s.chunkOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := s.readPDF(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	text, err := s.pdfs.ExtractText(data)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	sheet, err := s.extractor.Extract(r.Context(), text)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := StructuredResponse{Data: sheet}
	if query == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	sheetDoc, err := extraction.Document(sheet)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	index, err := chunking.BuildIndex(r.Context(), data, s.provider, append(opts, chunking.WithExtractor(extractedText(text)))...)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	docs, err := s.search(r.Context(), index, query, k, sheetDoc)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	resp.Query = query
	resp.Results = toChunks(docs)
	writeJSON(w, http.StatusOK, resp)
}

// search adds extra to index, runs the query and drops the index when it
// holds remote resources.
func (s *Server) search(ctx context.Context, index vectorstores.VectorStore, query string, k int, extra ...schema.Document) ([]schema.Document, error) {
	if d, ok := index.(dropper); ok {
		defer func() {
			if err := d.Drop(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to drop index", zap.Error(err))
			}
		}()
	}

	if len(extra) > 0 {
		if _, err := index.AddDocuments(ctx, extra); err != nil {
			return nil, fmt.Errorf("add documents: %w", err)
		}
	}
	return index.SimilaritySearch(ctx, query, k)
}

// extractedText hands already extracted text to the chunking pipeline.
type extractedText string

func (t extractedText) ExtractText([]byte) (string, error) {
	return string(t), nil
}

// readPDF accepts either a multipart form with a "file" field or the raw
// PDF as the request body.
func (s *Server) readPDF(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	defer body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("empty upload")
		}
		return data, nil
	}

	r.Body = body
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file field: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (s *Server) chunkOptions(r *http.Request) ([]chunking.Option, error) {
	size, err := intParam(r, "chunk_size", s.chunkSize)
	if err != nil {
		return nil, err
	}
	overlap, err := intParam(r, "chunk_overlap", s.chunkOverlap)
	if err != nil {
		return nil, err
	}
	if err := chunking.Validate(size, overlap); err != nil {
		return nil, err
	}

	opts := []chunking.Option{
		chunking.WithChunkSize(size),
		chunking.WithChunkOverlap(overlap),
	}
	if source := r.URL.Query().Get("source"); source != "" {
		opts = append(opts, chunking.WithMetadata(map[string]any{"source": source}))
	}
	return opts, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrParse), errors.Is(err, chunking.ErrInvalidChunkConfig):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return n, nil
}

func toChunks(docs []schema.Document) []ChunkResponse {
	out := make([]ChunkResponse, len(docs))
	for i, d := range docs {
		out[i] = ChunkResponse{
			Content:  d.PageContent,
			Metadata: d.Metadata,
			Score:    d.Score,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
