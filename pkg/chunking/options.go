package chunking

import (
	"maps"

	processor "factsheet/process"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Options configures ParseAndEmbed.
type Options struct {
	ChunkSize         int
	ChunkOverlap      int
	ReturnVectorStore bool
	Splitter          textsplitter.TextSplitter
	Extractor         PDFExtractor
	Metadata          map[string]any
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
		ReturnVectorStore: true,
		Extractor:         processor.NewClient(processor.NewLedongthucExtractor()),
	}
}

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(o *Options) {
		o.ChunkSize = size
	}
}

// WithChunkOverlap sets how many characters adjacent chunks may share.
func WithChunkOverlap(overlap int) Option {
	return func(o *Options) {
		o.ChunkOverlap = overlap
	}
}

// WithReturnVectorStore selects between an index (true) and raw
// (document, vector) pairs (false).
func WithReturnVectorStore(v bool) Option {
	return func(o *Options) {
		o.ReturnVectorStore = v
	}
}

// WithSplitter replaces the default recursive character splitter.
// Chunk size and overlap are then the splitter's own concern.
func WithSplitter(s textsplitter.TextSplitter) Option {
	return func(o *Options) {
		o.Splitter = s
	}
}

func WithExtractor(e PDFExtractor) Option {
	return func(o *Options) {
		o.Extractor = e
	}
}

// WithMetadata attaches a copy of md to every document, plus the chunk's
// position under the "chunk" key.
func WithMetadata(md map[string]any) Option {
	return func(o *Options) {
		o.Metadata = maps.Clone(md)
	}
}

func (o Options) splitter() textsplitter.TextSplitter {
	if o.Splitter != nil {
		return o.Splitter
	}
	return newRecursiveSplitter(
		textsplitter.WithChunkSize(o.ChunkSize),
		textsplitter.WithChunkOverlap(o.ChunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
}
