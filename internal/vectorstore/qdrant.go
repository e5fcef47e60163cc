package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"ragcore/internal/chunk"
)

// Reserved payload fields carrying chunk columns Qdrant has no native
// slot for. payloadIDField holds the original candidate id when that id
// isn't itself a valid UUID, since Qdrant point ids must be UUIDs or
// positive integers.
const (
	payloadIDField         = "_original_id"
	payloadTextField       = "_text"
	payloadDocumentIDField = "_document_id"
	payloadTokenCountField = "_token_count"
	payloadOrdinalField    = "_ordinal"
)

// QdrantStore is the ANN backend over a Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantStore connects to Qdrant over its gRPC API (default port 6334)
// and ensures the target collection exists with the configured dimension
// and distance metric.
func NewQdrantStore(dsn, collection string, dimensions int, metric string) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	q := &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectorstore: ensure qdrant collection: %w", err)
	}
	return q, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert indexes one chunk's primary embedding.
func (q *QdrantStore) Upsert(ctx context.Context, c chunk.Chunk) error {
	uuidStr, remapped := pointIDFor(c.ID)
	payload := make(map[string]any, len(c.Metadata)+5)
	for k, v := range c.Metadata {
		payload[k] = v
	}
	if remapped {
		payload[payloadIDField] = c.ID
	}
	payload[payloadTextField] = c.Text
	payload[payloadDocumentIDField] = c.DocumentID
	payload[payloadTokenCountField] = int64(c.TokenCount)
	payload[payloadOrdinalField] = int64(c.Ordinal)
	vec := make([]float32, len(c.Primary))
	copy(vec, c.Primary)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]chunk.Candidate, error) {
	k, err := validateK(k, 0)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for key, val := range filter {
			must = append(must, qdrant.NewMatch(key, val))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]chunk.Candidate, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		if id == "" {
			id = hit.Id.String()
		}
		metadata := make(map[string]string)
		cand := chunk.Candidate{Source: "vector"}
		var original string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				switch k {
				case payloadIDField:
					original = v.GetStringValue()
				case payloadTextField:
					cand.Text = v.GetStringValue()
				case payloadDocumentIDField:
					cand.DocumentID = v.GetStringValue()
				case payloadTokenCountField:
					cand.TokenCount = int(v.GetIntegerValue())
				case payloadOrdinalField:
					cand.Ordinal = int(v.GetIntegerValue())
				default:
					metadata[k] = v.GetStringValue()
				}
			}
		}
		if original != "" {
			id = original
		}
		cand.ID = id
		cand.Metadata = metadata
		// Qdrant reports similarity (higher is closer); the core wants a
		// distance, so invert it the same way the memory backend does
		// for cosine.
		cand.Distance = 1 - float64(hit.Score)
		out = append(out, cand)
	}
	sortCandidates(out)
	return out, nil
}

func (q *QdrantStore) Close() error { return q.client.Close() }
