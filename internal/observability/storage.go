package observability

import (
	"context"
	"time"

	"trustgate/internal/models"
	"trustgate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a storage.Store implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStore struct {
	inner    storage.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a store wrapper that records trace spans,
// operation latency histograms, and error counters for every store method call.
func NewInstrumentedStore(inner storage.Store) (*InstrumentedStore, error) {
	tracer := otel.Tracer("trustgate/storage")
	meter := otel.Meter("trustgate/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "CreateAPIKey", attribute.String("key_id", key.ID))
	start := time.Now()
	err := s.inner.CreateAPIKey(ctx, key)
	s.record(ctx, span, "CreateAPIKey", start, err)
	return err
}

func (s *InstrumentedStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	// The hash is the credential; never attach it to the span.
	ctx, span := s.startSpan(ctx, "GetAPIKeyByHash")
	start := time.Now()
	result, err := s.inner.GetAPIKeyByHash(ctx, hash)
	s.record(ctx, span, "GetAPIKeyByHash", start, err)
	return result, err
}

func (s *InstrumentedStore) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByID", attribute.String("key_id", id))
	start := time.Now()
	result, err := s.inner.GetAPIKeyByID(ctx, id)
	s.record(ctx, span, "GetAPIKeyByID", start, err)
	return result, err
}

func (s *InstrumentedStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "ListAPIKeys")
	start := time.Now()
	result, err := s.inner.ListAPIKeys(ctx)
	s.record(ctx, span, "ListAPIKeys", start, err)
	return result, err
}

func (s *InstrumentedStore) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "UpdateAPIKey", attribute.String("key_id", key.ID))
	start := time.Now()
	err := s.inner.UpdateAPIKey(ctx, key)
	s.record(ctx, span, "UpdateAPIKey", start, err)
	return err
}

func (s *InstrumentedStore) DeleteAPIKey(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteAPIKey", attribute.String("key_id", id))
	start := time.Now()
	err := s.inner.DeleteAPIKey(ctx, id)
	s.record(ctx, span, "DeleteAPIKey", start, err)
	return err
}

func (s *InstrumentedStore) AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error {
	ctx, span := s.startSpan(ctx, "AppendAccessLog", attribute.String("endpoint", entry.Endpoint))
	start := time.Now()
	err := s.inner.AppendAccessLog(ctx, entry)
	s.record(ctx, span, "AppendAccessLog", start, err)
	return err
}

func (s *InstrumentedStore) AccessLogs(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	ctx, span := s.startSpan(ctx, "AccessLogs", attribute.Int("limit", limit))
	start := time.Now()
	result, err := s.inner.AccessLogs(ctx, limit)
	s.record(ctx, span, "AccessLogs", start, err)
	return result, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
