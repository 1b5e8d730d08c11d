package embedding

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResilientConfig tunes the protections around a remote embedder.
type ResilientConfig struct {
	// RequestsPerSecond limits calls to the wrapped embedder; 0 disables the limiter.
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BaseDelay         time.Duration
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		RequestsPerSecond: 5,
		Burst:             5,
		MaxRetries:        5,
		BaseDelay:         100 * time.Millisecond,
		BreakerTimeout:    60 * time.Second,
	}
}

// Resilient wraps an embedder with a rate limiter, a circuit breaker and
// exponential backoff. The breaker wraps the retries, so one exhausted call
// counts as one failure.
type Resilient struct {
	next       embeddings.Embedder
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ embeddings.Embedder = (*Resilient)(nil)

func NewResilient(next embeddings.Embedder, cfg ResilientConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingAPI",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// a caller giving up says nothing about the embedding service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Resilient{
		next:       next,
		limiter:    limiter,
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func (r *Resilient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := r.call(ctx, "embed_documents", func() error {
		var err error
		vectors, err = r.next.EmbedDocuments(ctx, texts)
		return err
	})
	return vectors, err
}

func (r *Resilient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.call(ctx, "embed_query", func() error {
		var err error
		vector, err = r.next.EmbedQuery(ctx, text)
		return err
	})
	return vector, err
}

func (r *Resilient) call(ctx context.Context, op string, fn func() error) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.withRetry(ctx, op, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.logger.Error("embedding call rejected", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (r *Resilient) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return errors.Join(lastErr, ctx.Err())
		}

		// Don't wait after the last attempt
		if attempt < r.maxRetries {
			delay := r.backoffDelay(attempt)
			r.logger.Warn("embedding call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return lastErr
}

func (r *Resilient) backoffDelay(attempt int) time.Duration {
	// Exponential backoff: baseDelay * 2^attempt with up to 25% jitter
	delay := float64(r.baseDelay) * math.Pow(2, float64(attempt))
	jitter := delay * 0.25 * (rand.Float64() - 0.5)
	return time.Duration(delay + jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
