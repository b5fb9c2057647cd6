package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/d9705996/ama"

// Metrics holds the domain instruments recorded by the API and the
// similarity pipeline.
type Metrics struct {
	questions  metric.Int64Counter
	votes      metric.Int64Counter
	embeddings metric.Int64Counter
	embedTime  metric.Float64Histogram
}

// NewMetrics registers the AMA instruments with mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	questions, err := meter.Int64Counter("ama.questions.submitted",
		metric.WithDescription("Questions submitted to events."))
	if err != nil {
		return nil, fmt.Errorf("questions counter: %w", err)
	}
	votes, err := meter.Int64Counter("ama.votes.cast",
		metric.WithDescription("Upvotes cast on questions."))
	if err != nil {
		return nil, fmt.Errorf("votes counter: %w", err)
	}
	embeddings, err := meter.Int64Counter("ama.embeddings.generated",
		metric.WithDescription("Embeddings generated, by provider and whether the fallback was used."))
	if err != nil {
		return nil, fmt.Errorf("embeddings counter: %w", err)
	}
	embedTime, err := meter.Float64Histogram("ama.embedding.duration",
		metric.WithDescription("Time spent generating one embedding."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("embedding histogram: %w", err)
	}

	return &Metrics{
		questions:  questions,
		votes:      votes,
		embeddings: embeddings,
		embedTime:  embedTime,
	}, nil
}

// QuestionSubmitted counts one new question.
func (m *Metrics) QuestionSubmitted(ctx context.Context) {
	m.questions.Add(ctx, 1)
}

// VoteCast counts one upvote.
func (m *Metrics) VoteCast(ctx context.Context) {
	m.votes.Add(ctx, 1)
}

// EmbeddingGenerated records one embedding and how long it took.
func (m *Metrics) EmbeddingGenerated(ctx context.Context, provider string, fallback bool, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("fallback", fallback),
	)
	m.embeddings.Add(ctx, 1, attrs)
	m.embedTime.Record(ctx, seconds, attrs)
}
