package qdrantdb

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

const (
	CollectionPrefix = "factsheet"
	contentKey       = "content"
)

var pointNamespace = uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

// Index is a vector store backed by a single Qdrant collection. The caller
// owns the collection and should Drop it when done.
type Index struct {
	client     *qdrant.Client
	collection string
	embedder   embeddings.Embedder
	logger     *zap.Logger
	next       int
	created    bool
}

var _ vectorstores.VectorStore = (*Index)(nil)

func newIndex(client *qdrant.Client, collection string, embedder embeddings.Embedder, logger *zap.Logger) *Index {
	return &Index{
		client:     client,
		collection: collection,
		embedder:   embedder,
		logger:     logger,
	}
}

func (x *Index) Collection() string {
	return x.collection
}

func (x *Index) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	opts := x.options(options)
	if opts.Embedder == nil {
		return nil, errors.New("qdrant: no embedder configured")
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("qdrant: embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("qdrant: got %d vectors for %d documents", len(vectors), len(docs))
	}

	if err := x.ensureCollection(ctx, uint64(len(vectors[0]))); err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		id := pointID(doc.PageContent, x.next+i)
		ids[i] = id
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: qdrant.NewValueMap(payload(doc)),
		}
	}

	_, err = x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: upsert into %s: %w", x.collection, err)
	}
	x.next += len(docs)

	x.logger.Info("indexed chunks",
		zap.String("collection", x.collection),
		zap.Int("count", len(docs)))
	return ids, nil
}

func (x *Index) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := x.options(options)
	if opts.Embedder == nil {
		return nil, errors.New("qdrant: no embedder configured")
	}
	if numDocuments <= 0 || x.next == 0 {
		return []schema.Document{}, nil
	}

	qv, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: embed query: %w", err)
	}

	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(qv...),
		Limit:          qdrant.PtrOf(uint64(numDocuments)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.ScoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(opts.ScoreThreshold)
	}

	points, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: query %s: %w", x.collection, err)
	}

	docs := make([]schema.Document, len(points))
	for i, p := range points {
		docs[i] = documentFromPayload(p.GetPayload(), p.GetScore())
	}
	return docs, nil
}

// Drop deletes the backing collection if this index created it, including
// after a failed AddDocuments.
func (x *Index) Drop(ctx context.Context) error {
	if !x.created {
		return nil
	}
	if err := x.client.DeleteCollection(ctx, x.collection); err != nil {
		return fmt.Errorf("qdrant: drop %s: %w", x.collection, err)
	}
	x.created = false
	x.next = 0
	return nil
}

func (x *Index) ensureCollection(ctx context.Context, size uint64) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", x.collection, err)
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", x.collection, err)
	}
	x.created = true
	return nil
}

func (x *Index) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{
		Embedder: x.embedder,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func collectionName(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// pointID is stable for a given chunk text and position, so identical
// chunks at different positions do not overwrite each other.
func pointID(content string, position int) string {
	h := sha256.New()
	h.Write([]byte(content))
	var pos [8]byte
	binary.BigEndian.PutUint64(pos[:], uint64(position))
	h.Write(pos[:])
	return uuid.NewSHA1(pointNamespace, h.Sum(nil)[:16]).String()
}

func payload(doc schema.Document) map[string]any {
	md := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md[contentKey] = doc.PageContent
	return md
}

func documentFromPayload(p map[string]*qdrant.Value, score float32) schema.Document {
	doc := schema.Document{
		Metadata: make(map[string]any, len(p)),
		Score:    score,
	}
	for k, v := range p {
		if k == contentKey {
			doc.PageContent = v.GetStringValue()
			continue
		}
		doc.Metadata[k] = fromValue(v)
	}
	return doc
}

func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}
