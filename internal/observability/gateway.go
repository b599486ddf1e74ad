package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics records admission-control outcomes: how requests were
// decided, trap hits, and the tarpit time added to responses.
type GatewayMetrics struct {
	decisions metric.Int64Counter
	trapHits  metric.Int64Counter
	delay     metric.Float64Histogram
}

// NewGatewayMetrics registers the gateway's instruments on the global meter.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("trustgate/gateway")

	decisions, err := meter.Int64Counter(
		"gateway.admission.decisions",
		metric.WithDescription("Number of admission decisions by outcome and tier"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	trapHits, err := meter.Int64Counter(
		"gateway.trap.hits",
		metric.WithDescription("Number of trap endpoint hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	delay, err := meter.Float64Histogram(
		"gateway.tarpit.delay",
		metric.WithDescription("Artificial delay added to responses in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{decisions: decisions, trapHits: trapHits, delay: delay}, nil
}

// RecordDecision counts one admission outcome. tier may be empty for
// requests rejected before a key was resolved.
func (m *GatewayMetrics) RecordDecision(ctx context.Context, outcome, tier string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("tier", tier),
		),
	)
}

// RecordTrapHit counts one trap endpoint hit.
func (m *GatewayMetrics) RecordTrapHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.trapHits.Add(ctx, 1)
}

// RecordDelay records tarpit time added to a response.
func (m *GatewayMetrics) RecordDelay(ctx context.Context, d time.Duration, reason string) {
	if m == nil || d <= 0 {
		return
	}
	m.delay.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
