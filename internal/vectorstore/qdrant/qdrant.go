// Package qdrant stores reference collections in Qdrant over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

// Config contains connection details for a Qdrant server.
type Config struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	RequestTimeout time.Duration
	RetryAttempts  int
	// UpsertBatch bounds the number of points sent per upsert request.
	UpsertBatch int
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.UpsertBatch <= 0 {
		c.UpsertBatch = 256
	}
}

// Storage implements domain.VectorStore on Qdrant with cosine distance.
type Storage struct {
	client *qdrant.Client
	cfg    Config
	log    *zap.Logger
}

var _ domain.VectorStore = (*Storage)(nil)

// NewStorage connects to Qdrant and verifies the connection with a health check.
func NewStorage(ctx context.Context, cfg Config, log *zap.Logger) (*Storage, error) {
	cfg.applyDefaults()
	log = logging.OrNop(log).Named("qdrant")

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &Storage{client: client, cfg: cfg, log: log}
	hctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	log.Info("qdrant connection established", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return s, nil
}

// Close closes the gRPC connection.
func (s *Storage) Close() error { return s.client.Close() }

func (s *Storage) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var exists bool
	err := s.retry(ctx, func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	return exists, err
}

// RecreateCollection drops the collection when present and creates it with cosine distance.
func (s *Storage) RecreateCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if exists {
		if err := s.retry(ctx, func() error { return s.client.DeleteCollection(ctx, name) }); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	}
	return s.retry(ctx, func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

func (s *Storage) Upsert(ctx context.Context, name string, points []domain.Point) error {
	for start := 0; start < len(points); start += s.cfg.UpsertBatch {
		end := min(start+s.cfg.UpsertBatch, len(points))
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(p.ID),
				Vectors: qdrant.NewVectors(toFloat32(p.Vector)...),
				Payload: toPayload(p.Payload),
			})
		}
		err := func() error {
			ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
			return s.retry(ctx, func() error {
				_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
					CollectionName: name,
					Points:         batch,
					Wait:           qdrant.PtrOf(true),
				})
				return err
			})
		}()
		if err != nil {
			return fmt.Errorf("upsert %s [%d:%d]: %w", name, start, end, err)
		}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, name string, vector []float64, limit int) ([]domain.ScoredPoint, error) {
	if limit <= 0 {
		limit = 5
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err := s.retry(ctx, func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(toFloat32(vector)...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredPoint, 0, len(results))
	for _, r := range results {
		out = append(out, domain.ScoredPoint{Score: float64(r.GetScore()), Payload: fromPayload(r.GetPayload())})
	}
	return out, nil
}

// retry re-runs op on transient gRPC errors with exponential backoff.
func (s *Storage) retry(ctx context.Context, op func() error) error {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || attempt == s.cfg.RetryAttempts {
			break
		}
		s.log.Debug("retrying after transient error", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toPayload(m map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		if val == float64(int64(val)) {
			return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		}
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case []any:
		list := make([]*qdrant.Value, len(val))
		for i, x := range val {
			list[i] = toValue(x)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: list}}}
	case map[string]any:
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: toPayload(val)}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromPayload(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, x := range vals {
			out[i] = fromValue(x)
		}
		return out
	case *qdrant.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	default:
		return nil
	}
}
