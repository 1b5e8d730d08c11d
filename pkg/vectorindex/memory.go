// Package vectorindex holds an in-memory vector store for a single document.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"

	"factsheet/pkg/embedding"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

var ErrNoEmbedder = errors.New("vectorindex: no embedder configured")

// Entry is one stored document and its embedding.
type Entry struct {
	ID       string
	Document schema.Document
	Vector   []float32
}

// Memory is a brute-force cosine similarity index. Writes and reads may
// happen concurrently; search scans every entry.
type Memory struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	entries []Entry
}

var _ vectorstores.VectorStore = (*Memory)(nil)

func NewMemory(embedder embeddings.Embedder) *Memory {
	return &Memory{embedder: embedder}
}

// MemoryFactory creates empty Memory indexes.
type MemoryFactory struct{}

func (MemoryFactory) NewIndex(_ context.Context, embedder embeddings.Embedder) (vectorstores.VectorStore, error) {
	return NewMemory(embedder), nil
}

// AddDocuments embeds docs in one batch and appends them in order.
func (m *Memory) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := m.options(options)
	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}

	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("vectorindex: got %d vectors for %d documents", len(vectors), len(docs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := strconv.Itoa(len(m.entries))
		m.entries = append(m.entries, Entry{
			ID:       id,
			Document: doc,
			Vector:   vectors[i],
		})
		ids[i] = id
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments documents ranked by cosine
// similarity to query, best first. Score is set on each returned document.
// Ties keep insertion order.
func (m *Memory) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := m.options(options)
	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	if numDocuments <= 0 {
		return []schema.Document{}, nil
	}

	qv, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed query: %w", err)
	}

	return m.SearchByVector(qv, numDocuments, opts.ScoreThreshold), nil
}

// SearchByVector ranks stored entries against vector. A positive threshold
// drops entries scoring below it.
func (m *Memory) SearchByVector(vector []float32, numDocuments int, threshold float32) []schema.Document {
	m.mu.RLock()
	type scored struct {
		idx   int
		score float32
	}
	candidates := make([]scored, 0, len(m.entries))
	for i, e := range m.entries {
		s := embedding.CosineSimilarity(vector, e.Vector)
		if threshold > 0 && s < threshold {
			continue
		}
		candidates = append(candidates, scored{idx: i, score: s})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if len(candidates) > numDocuments {
		candidates = candidates[:numDocuments]
	}

	docs := make([]schema.Document, len(candidates))
	for i, c := range candidates {
		doc := m.entries[c.idx].Document
		doc.Metadata = maps.Clone(doc.Metadata)
		doc.Score = c.score
		docs[i] = doc
	}
	m.mu.RUnlock()

	return docs
}

// Entries returns a copy of the stored entries in insertion order.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{
		Embedder: m.embedder,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}
