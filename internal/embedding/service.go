package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/d9705996/ama/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is an embedding together with where it came from.
type Result struct {
	Vector   []float32
	Provider string
	Model    string
	Fallback bool
	Cached   bool
}

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	Model      string
	MaxRetries int
	// Backoff is the base delay between retries; attempt n waits n*Backoff.
	Backoff time.Duration
}

// Service embeds text with the primary provider and falls back to the mock
// provider when the primary keeps failing.
type Service struct {
	primary  Provider
	fallback Provider
	cache    Cache
	cfg      ServiceConfig
	metrics  *observability.Metrics
	tracer   trace.Tracer
	log      *slog.Logger
}

// NewService creates a Service. cache may be nil to disable caching.
func NewService(primary Provider, fallback Provider, cache Cache, cfg ServiceConfig, metrics *observability.Metrics, log *slog.Logger) *Service {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		cfg:      cfg,
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/d9705996/ama/internal/embedding"),
		log:      log,
	}
}

// ModelName is the model recorded with vectors from the primary provider.
func (s *Service) ModelName() string {
	if s.primary.Name() == "mock" {
		return "mock"
	}
	return s.cfg.Model
}

// NormalizeText trims text and collapses runs of whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Embed returns an embedding for text. It fails only for empty text or a
// cancelled context.
func (s *Service) Embed(ctx context.Context, text string) (Result, error) {
	text = NormalizeText(text)
	if text == "" {
		return Result{}, errors.New("embed: text is empty")
	}

	ctx, span := s.tracer.Start(ctx, "embedding.Embed",
		trace.WithAttributes(attribute.String("embedding.provider", s.primary.Name())))
	defer span.End()

	key := cacheKey(s.ModelName(), text)
	if s.cache != nil {
		if vec, ok := s.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("embedding.cached", true))
			return Result{Vector: vec, Provider: s.primary.Name(), Model: s.ModelName(), Cached: true}, nil
		}
	}

	start := time.Now()
	vec, err := s.embedWithRetry(ctx, text)
	if err == nil {
		s.metrics.EmbeddingGenerated(ctx, s.primary.Name(), false, time.Since(start).Seconds())
		if s.cache != nil {
			s.cache.Set(ctx, key, vec)
		}
		return Result{Vector: vec, Provider: s.primary.Name(), Model: s.ModelName()}, nil
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, ctx.Err().Error())
		return Result{}, fmt.Errorf("embed: %w", ctx.Err())
	}

	s.log.Warn("embedding provider failed, using fallback",
		"provider", s.primary.Name(), "fallback", s.fallback.Name(), "err", err)
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("embedding.fallback", true))

	vec, ferr := s.fallback.Embed(ctx, text)
	if ferr != nil {
		span.SetStatus(codes.Error, ferr.Error())
		return Result{}, fmt.Errorf("embed fallback: %w", ferr)
	}
	s.metrics.EmbeddingGenerated(ctx, s.fallback.Name(), true, time.Since(start).Seconds())
	return Result{Vector: vec, Provider: s.fallback.Name(), Model: s.fallback.Name(), Fallback: true}, nil
}

func (s *Service) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.Backoff * time.Duration(attempt)):
			}
		}
		vec, err := s.primary.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec, nil
		}
		if err == nil {
			err = ErrEmptyEmbedding
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", s.primary.Name(), s.cfg.MaxRetries+1, lastErr)
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "|" + text))
	return hex.EncodeToString(h[:])
}
