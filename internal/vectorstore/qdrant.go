package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Payload field names for stored chunks.
const (
	fieldChunkIndex = "chunk_index"
	fieldPage       = "page"
	fieldText       = "text"
	fieldHasNumbers = "has_numbers"
	fieldWordCount  = "word_count"
)

// QdrantStore implements VectorStore using Qdrant.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection with cosine distance if missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// CollectionExists checks if the collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}

	return exists, nil
}

// Upsert inserts or updates points in the vector store.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, point := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: map[string]*qdrant.Value{
				fieldChunkIndex: qdrant.NewValueInt(int64(point.ChunkIndex)),
				fieldPage:       qdrant.NewValueInt(int64(point.Page)),
				fieldText:       qdrant.NewValueString(point.Text),
				fieldHasNumbers: qdrant.NewValueBool(point.HasNumbers),
				fieldWordCount:  qdrant.NewValueInt(int64(point.WordCount)),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search performs cosine similarity search.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topN int, minScore float32) ([]Candidate, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topN)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		query.ScoreThreshold = qdrant.PtrOf(minScore)
	}

	response, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	candidates := make([]Candidate, 0, len(response))
	for _, point := range response {
		candidate := Candidate{
			ID:         point.Id.GetUuid(),
			Similarity: point.Score,
		}

		if payload := point.Payload; payload != nil {
			if v, ok := payload[fieldChunkIndex]; ok {
				candidate.ChunkIndex = int(v.GetIntegerValue())
			}
			if v, ok := payload[fieldPage]; ok {
				candidate.Page = int(v.GetIntegerValue())
			}
			if v, ok := payload[fieldText]; ok {
				candidate.Text = v.GetStringValue()
			}
			if v, ok := payload[fieldHasNumbers]; ok {
				candidate.HasNumbers = v.GetBoolValue()
			}
			if v, ok := payload[fieldWordCount]; ok {
				candidate.WordCount = int(v.GetIntegerValue())
			}
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// Count returns the number of stored points.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}

// Ensure QdrantStore implements VectorStore.
var _ VectorStore = (*QdrantStore)(nil)
