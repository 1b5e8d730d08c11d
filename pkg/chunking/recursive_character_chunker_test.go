package chunking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"factsheet/pkg/embedding"
	"factsheet/pkg/pdftest"
	"factsheet/pkg/vectorindex"
	processor "factsheet/process"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type textExtractor string

func (t textExtractor) ExtractText([]byte) (string, error) {
	return string(t), nil
}

// fakeProvider records calls and embeds with a deterministic hashing embedder.
type fakeProvider struct {
	embedder   *embedding.Hashing
	embedCalls int
	indexCalls int
	err        error
	dropLast   bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{embedder: embedding.NewHashing(64)}
}

func (f *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	if f.err != nil {
		return nil, f.err
	}
	vectors, err := f.embedder.EmbedDocuments(ctx, texts)
	if f.dropLast && len(vectors) > 0 {
		vectors = vectors[:len(vectors)-1]
	}
	return vectors, err
}

func (f *fakeProvider) BuildIndex(ctx context.Context, docs []schema.Document) (vectorstores.VectorStore, error) {
	f.indexCalls++
	if f.err != nil {
		return nil, f.err
	}
	index := vectorindex.NewMemory(f.embedder)
	if _, err := index.AddDocuments(ctx, docs); err != nil {
		return nil, err
	}
	return index, nil
}

func longText() string {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		// numbered words keep every chunk a unique substring
		fmt.Fprintf(&b, "item%d covers%d fund%d returns%d and%d risk%d. ", i, i, i, i, i, i)
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestSplitDocuments_SmallWindow(t *testing.T) {
	docs, err := SplitDocuments(nil,
		WithExtractor(textExtractor("abcdefghij")),
		WithChunkSize(5),
		WithChunkOverlap(2),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"abcde", "defgh", "ghij"}
	if len(docs) != len(expected) {
		t.Fatalf("expected %d chunks, got %d: %v", len(expected), len(docs), docs)
	}
	for i, doc := range docs {
		if doc.PageContent != expected[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, expected[i], doc.PageContent)
		}
		if i > 0 {
			prev := docs[i-1].PageContent
			if !strings.HasSuffix(prev, doc.PageContent[:2]) {
				t.Errorf("chunks %d and %d do not overlap by 2: %q %q", i-1, i, prev, doc.PageContent)
			}
		}
	}

	again, err := SplitDocuments(nil,
		WithExtractor(textExtractor("abcdefghij")),
		WithChunkSize(5),
		WithChunkOverlap(2),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range docs {
		if docs[i].PageContent != again[i].PageContent {
			t.Errorf("splitting is not deterministic at chunk %d", i)
		}
	}
}

func TestSplitDocuments_Bounds(t *testing.T) {
	text := longText()

	testCases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"Defaults", DefaultChunkSize, DefaultChunkOverlap},
		{"Small", 120, 24},
		{"NoOverlap", 200, 0},
		{"LargeOverlap", 150, 149},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := SplitDocuments(nil,
				WithExtractor(textExtractor(text)),
				WithChunkSize(tc.size),
				WithChunkOverlap(tc.overlap),
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(docs) == 0 {
				t.Fatal("expected chunks")
			}

			// every chunk fits, appears in the source in order, and only
			// whitespace is left between consecutive chunks
			pos := 0
			prevEnd := 0
			for i, doc := range docs {
				if n := utf8.RuneCountInString(doc.PageContent); n > tc.size {
					t.Errorf("chunk %d has %d characters, limit %d", i, n, tc.size)
				}

				at := strings.Index(text[pos:], doc.PageContent)
				if at < 0 {
					t.Fatalf("chunk %d not found in order: %q", i, doc.PageContent)
				}
				start := pos + at
				if start > prevEnd && strings.TrimSpace(text[prevEnd:start]) != "" {
					t.Errorf("text dropped before chunk %d: %q", i, text[prevEnd:start])
				}
				end := start + len(doc.PageContent)
				if end > prevEnd {
					prevEnd = end
				}
				pos = start + 1
			}
			if strings.TrimSpace(text[prevEnd:]) != "" {
				t.Errorf("text dropped at the end: %q", text[prevEnd:])
			}
		})
	}
}

func TestSplitDocuments_SeparatorAtLimit(t *testing.T) {
	paragraph := strings.Repeat("fund risk ", 99)

	testCases := []struct {
		name     string
		text     string
		size     int
		overlap  int
		expected []string
	}{
		{
			name:     "Defaults",
			text:     "Fund facts\n" + paragraph,
			size:     DefaultChunkSize,
			overlap:  DefaultChunkOverlap,
			expected: []string{"Fund facts", strings.TrimSpace(paragraph)},
		},
		{
			name:     "Small",
			text:     "cd\nbaaabcdb",
			size:     10,
			overlap:  2,
			expected: []string{"cd", "baaabcdb"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := SplitDocuments(nil,
				WithExtractor(textExtractor(tc.text)),
				WithChunkSize(tc.size),
				WithChunkOverlap(tc.overlap),
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(docs) != len(tc.expected) {
				t.Fatalf("expected %d chunks, got %d", len(tc.expected), len(docs))
			}
			for i, doc := range docs {
				if doc.PageContent != tc.expected[i] {
					t.Errorf("chunk %d: expected %q, got %q", i, tc.expected[i], doc.PageContent)
				}
				if n := utf8.RuneCountInString(doc.PageContent); n > tc.size {
					t.Errorf("chunk %d has %d characters, limit %d", i, n, tc.size)
				}
			}
		})
	}
}

func TestSplitDocuments_RandomTextFits(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	alphabet := []string{"a", "b", "c", "d", " ", "\n", "\n\n"}

	for run := 0; run < 2000; run++ {
		var b strings.Builder
		for n := rng.IntN(60); n > 0; n-- {
			b.WriteString(alphabet[rng.IntN(len(alphabet))])
		}
		size := 2 + rng.IntN(14)
		overlap := rng.IntN(size)

		docs, err := SplitDocuments(nil,
			WithExtractor(textExtractor(b.String())),
			WithChunkSize(size),
			WithChunkOverlap(overlap),
		)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", run, err)
		}
		for i, doc := range docs {
			if n := utf8.RuneCountInString(doc.PageContent); n > size {
				t.Fatalf("run %d (%q, size %d, overlap %d): chunk %d %q has %d characters",
					run, b.String(), size, overlap, i, doc.PageContent, n)
			}
		}
	}
}

func TestSplitDocuments_Metadata(t *testing.T) {
	docs, err := SplitDocuments(nil, WithExtractor(textExtractor(longText())), WithChunkSize(300), WithChunkOverlap(60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, doc := range docs {
		if doc.Metadata == nil || len(doc.Metadata) != 0 {
			t.Errorf("chunk %d: expected empty metadata, got %v", i, doc.Metadata)
		}
	}

	docs, err = SplitDocuments(nil,
		WithExtractor(textExtractor(longText())),
		WithChunkSize(300),
		WithChunkOverlap(60),
		WithMetadata(map[string]any{"source": "fund.pdf"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, doc := range docs {
		if doc.Metadata["source"] != "fund.pdf" || doc.Metadata["chunk"] != i {
			t.Errorf("chunk %d: unexpected metadata %v", i, doc.Metadata)
		}
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		size    int
		overlap int
		valid   bool
	}{
		{"Defaults", 1000, 200, true},
		{"ZeroOverlap", 10, 0, true},
		{"EqualOverlap", 100, 100, false},
		{"LargerOverlap", 100, 150, false},
		{"NegativeOverlap", 100, -1, false},
		{"ZeroSize", 0, 0, false},
		{"NegativeSize", -5, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.size, tc.overlap)
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidChunkConfig) {
				t.Errorf("expected ErrInvalidChunkConfig, got %v", err)
			}
		})
	}
}

func TestParseAndEmbed_InvalidConfigFailsFirst(t *testing.T) {
	provider := newFakeProvider()

	_, err := ParseAndEmbed(context.Background(), pdftest.Build("Hello world"), provider,
		WithChunkSize(100), WithChunkOverlap(100))
	if !errors.Is(err, ErrInvalidChunkConfig) {
		t.Fatalf("expected ErrInvalidChunkConfig, got %v", err)
	}
	if provider.embedCalls+provider.indexCalls != 0 {
		t.Error("provider must not be called for an invalid configuration")
	}
}

func TestParseAndEmbed_MalformedPDF(t *testing.T) {
	for _, returnStore := range []bool{true, false} {
		t.Run(fmt.Sprintf("ReturnVectorStore=%v", returnStore), func(t *testing.T) {
			provider := newFakeProvider()

			_, err := ParseAndEmbed(context.Background(), []byte("\x00\x01 not a pdf \xff"), provider,
				WithReturnVectorStore(returnStore))
			if !errors.Is(err, processor.ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			if provider.embedCalls+provider.indexCalls != 0 {
				t.Error("provider must not be called for a malformed PDF")
			}
		})
	}
}

func TestParseAndEmbed_VectorsMode(t *testing.T) {
	provider := newFakeProvider()
	opts := []Option{
		WithExtractor(textExtractor(longText())),
		WithChunkSize(200),
		WithChunkOverlap(40),
	}

	docs, err := SplitDocuments(nil, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := ParseAndEmbed(context.Background(), nil, provider, append(opts, WithReturnVectorStore(false))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Index != nil {
		t.Error("expected no index in vectors mode")
	}
	if provider.embedCalls != 1 || provider.indexCalls != 0 {
		t.Errorf("expected one batch embed call, got embed=%d index=%d", provider.embedCalls, provider.indexCalls)
	}

	if len(res.Chunks) != len(docs) {
		t.Fatalf("expected %d pairs, got %d", len(docs), len(res.Chunks))
	}
	for i, c := range res.Chunks {
		if c.Document.PageContent != docs[i].PageContent {
			t.Errorf("pair %d: content %q, want %q", i, c.Document.PageContent, docs[i].PageContent)
		}
		want, _ := provider.embedder.EmbedQuery(context.Background(), docs[i].PageContent)
		if embedding.CosineSimilarity(c.Vector, want) < 0.9999 {
			t.Errorf("pair %d: vector does not belong to its chunk", i)
		}
	}
}

func TestParseAndEmbed_ModesAgree(t *testing.T) {
	data := pdftest.Build(
		"Fund objective: long term capital growth through global equities.",
		"Top holdings include technology and healthcare companies.",
		"Ongoing charges are low and the risk indicator is five out of seven.",
	)
	opts := []Option{WithChunkSize(60), WithChunkOverlap(12)}

	pairs, err := EmbedChunks(context.Background(), data, newFakeProvider(), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store, err := BuildIndex(context.Background(), data, newFakeProvider(), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mem, ok := store.(*vectorindex.Memory)
	if !ok {
		t.Fatalf("unexpected index type %T", store)
	}

	entries := mem.Entries()
	if len(entries) != len(pairs) {
		t.Fatalf("index has %d entries, vectors mode has %d", len(entries), len(pairs))
	}
	for i := range pairs {
		if entries[i].Document.PageContent != pairs[i].Document.PageContent {
			t.Errorf("chunk %d differs: %q vs %q", i, entries[i].Document.PageContent, pairs[i].Document.PageContent)
		}
		if embedding.CosineSimilarity(entries[i].Vector, pairs[i].Vector) < 0.9999 {
			t.Errorf("chunk %d: vectors differ between modes", i)
		}
	}

	docs, err := store.SimilaritySearch(context.Background(), "risk indicator", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || !strings.Contains(docs[0].PageContent, "risk") {
		t.Errorf("unexpected top result: %v", docs)
	}
}

func TestParseAndEmbed_ProviderErrors(t *testing.T) {
	boom := errors.New("quota exceeded")

	testCases := []struct {
		name        string
		returnStore bool
		dropLast    bool
		expected    error
	}{
		{"IndexError", true, false, boom},
		{"EmbedError", false, false, boom},
		{"ShortEmbedding", false, true, ErrEmbeddingCount},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newFakeProvider()
			provider.dropLast = tc.dropLast
			if !tc.dropLast {
				provider.err = boom
			}

			_, err := ParseAndEmbed(context.Background(), nil, provider,
				WithExtractor(textExtractor(longText())),
				WithReturnVectorStore(tc.returnStore))
			if !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}

func TestParseAndEmbed_EmptyDocument(t *testing.T) {
	provider := newFakeProvider()

	pairs, err := EmbedChunks(context.Background(), pdftest.Build("", ""), provider)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("expected no chunks, got %d", len(pairs))
	}
	if provider.embedCalls != 0 {
		t.Error("expected no embed call for a document without text")
	}
}
