// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("answerd.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// scrollPageLimit bounds full-collection scans in the deletion ladder.
const scrollPageLimit = 10000

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// APIKey authenticates against managed Qdrant deployments. Optional.
	APIKey string `koanf:"api_key"`

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// Collection is the collection used for all operations.
	// Default: "answerd_knowledge"
	Collection string `koanf:"collection"`

	// VectorSize is the dimensionality of embeddings.
	// MUST match the embedding provider's output dimension.
	VectorSize uint64 `koanf:"vector_size"`

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry. Default: 1s
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "answerd_knowledge"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if err := validateCollectionName(c.Collection); err != nil {
		return err
	}
	return nil
}

// validateCollectionName rejects names unsafe for server-side use.
func validateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name %q must match %s", ErrInvalidConfig, name, collectionNamePattern)
	}
	return nil
}

// isTransientError reports whether a gRPC error is worth retrying.
func isTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.ResourceExhausted, grpccodes.Aborted:
		return true
	default:
		return false
	}
}

// QdrantStore implements the Store interface using the Qdrant gRPC client.
//
// Transient failures are retried with exponential backoff. The store tracks
// its own availability: operations issued before the collection has been
// verified fail with ErrStoreNotReady, and Stats reports Available=false.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
	ready  atomic.Bool
}

// NewQdrantStore creates a new QdrantStore and verifies connectivity.
//
// The collection is created if it does not exist. A store whose health
// check fails is still returned, marked unavailable, so the caller can
// degrade instead of crash; the first successful Stats call after the
// backend comes up flips it to ready.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("Qdrant gRPC using plaintext (TLS disabled), insecure for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.initialize(ctx); err != nil {
		logger.Warn("Qdrant not reachable at startup, store marked unavailable",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return store, nil
	}

	logger.Info("QdrantStore initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return store, nil
}

// initialize checks health and ensures the collection exists.
func (s *QdrantStore) initialize(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
		}
	}

	s.ready.Store(true)
	return nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	s.ready.Store(false)
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !isTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Upsert stores chunks with their precomputed vectors.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.String("collection", s.config.Collection),
	)

	if !s.ready.Load() {
		return ErrStoreNotReady
	}
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if len(chunks) != len(vectors) {
		span.SetStatus(codes.Error, "length mismatch")
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = uuid.New().String()
		}

		payload := make(map[string]*qdrant.Value, len(chunk.Metadata)+2)
		payload["content"] = qdrant.NewValueString(chunk.Content)
		payload["id"] = qdrant.NewValueString(id)
		for k, v := range chunk.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = qdrant.NewValueString(val)
			case int:
				payload[k] = qdrant.NewValueInt(int64(val))
			case int64:
				payload[k] = qdrant.NewValueInt(val)
			case float64:
				payload[k] = qdrant.NewValueDouble(val)
			case bool:
				payload[k] = qdrant.NewValueBool(val)
			}
		}

		// Qdrant point IDs must be UUIDs; the chunk ID is preserved in
		// payload["id"] for retrieval.
		var pointID *qdrant.PointId
		if _, err := uuid.Parse(id); err == nil {
			pointID = qdrant.NewIDUUID(id)
		} else {
			pointID = qdrant.NewIDUUID(uuid.New().String())
		}

		points[i] = &qdrant.PointStruct{
			Id:      pointID,
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err)
	}

	span.SetAttributes(attribute.Int("points_added", len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to topK results ordered by descending similarity.
// Qdrant's cosine scores are already similarities in [0,1].
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("top_k", topK),
	)

	if !s.ready.Load() {
		return nil, ErrStoreNotReady
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", ErrInvalidConfig)
	}

	var scored []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	results := make([]SearchResult, len(scored))
	for i, point := range scored {
		results[i] = fromScoredPoint(point)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// fromScoredPoint converts a Qdrant scored point to a SearchResult.
func fromScoredPoint(point *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{Score: point.Score}
	if point.Payload == nil {
		return result
	}
	result.Metadata = make(map[string]interface{}, len(point.Payload))
	for k, v := range point.Payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			result.Metadata[k] = val.StringValue
			switch k {
			case "content":
				result.Content = val.StringValue
			case "id":
				result.ID = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			result.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			result.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			result.Metadata[k] = val.BoolValue
		}
	}
	return result
}

// documentFilter matches all points carrying the given document_id.
func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(MetaDocumentID, documentID),
		},
	}
}

// DeleteByDocument removes all chunks of a document, best-effort.
//
// Managed and local Qdrant deployments expose inconsistent filter
// semantics across versions, so three strategies are tried in order:
// server-side filter delete, filter-scroll then delete-by-id, and a full
// scan with client-side filtering. Exhausting all three still succeeds;
// duplicate chunks after a re-write are tolerable.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.String("collection", s.config.Collection),
	)

	if !s.ready.Load() {
		s.logger.Warn("delete skipped, store not ready", zap.String("document_id", documentID))
		return nil
	}

	strategies := []deleteStrategy{
		{
			name: "server_filter",
			run: func(ctx context.Context) error {
				_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
					CollectionName: s.config.Collection,
					Points: &qdrant.PointsSelector{
						PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
							Filter: documentFilter(documentID),
						},
					},
				})
				return err
			},
		},
		{
			name: "filter_fetch_ids",
			run: func(ctx context.Context) error {
				points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
					CollectionName: s.config.Collection,
					Filter:         documentFilter(documentID),
					Limit:          qdrant.PtrOf(uint32(scrollPageLimit)),
				})
				if err != nil {
					return err
				}
				return s.deletePointIDs(ctx, retrievedIDs(points))
			},
		},
		{
			name: "full_scan",
			run: func(ctx context.Context) error {
				points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
					CollectionName: s.config.Collection,
					Limit:          qdrant.PtrOf(uint32(scrollPageLimit)),
					WithPayload:    qdrant.NewWithPayload(true),
				})
				if err != nil {
					return err
				}
				var matched []*qdrant.PointId
				for _, p := range points {
					if v, ok := p.Payload[MetaDocumentID]; ok {
						if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok && sv.StringValue == documentID {
							matched = append(matched, p.Id)
						}
					}
				}
				return s.deletePointIDs(ctx, matched)
			},
		},
	}

	return runDeleteLadder(ctx, s.logger, documentID, strategies)
}

// retrievedIDs extracts point IDs from scroll results.
func retrievedIDs(points []*qdrant.RetrievedPoint) []*qdrant.PointId {
	ids := make([]*qdrant.PointId, len(points))
	for i, p := range points {
		ids[i] = p.Id
	}
	return ids
}

// deletePointIDs deletes the given points by ID. A nil or empty list is a no-op.
func (s *QdrantStore) deletePointIDs(ctx context.Context, ids []*qdrant.PointId) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	return err
}

// Stats reports chunk count and availability. An unreachable backend is
// reported as unavailable instead of erroring; a reachable one that was
// previously down is re-initialized.
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Collection: s.config.Collection}

	if !s.ready.Load() {
		if err := s.initialize(ctx); err != nil {
			return stats, nil
		}
	}

	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		s.ready.Store(false)
		s.logger.Warn("Qdrant stats check failed, store marked unavailable", zap.Error(err))
		return stats, nil
	}

	stats.Available = true
	if info.PointsCount != nil {
		stats.Count = int(*info.PointsCount)
	}
	return stats, nil
}
