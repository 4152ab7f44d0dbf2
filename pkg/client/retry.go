package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghinv_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghinv_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghinv_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Cooldown is the fixed wait after a quota failure rotated the
	// credential. Quota attempts skip the exponential schedule.
	Cooldown time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Cooldown:          5 * time.Second,
	}
}

// retryWithBackoff executes fn with bounded, classified retries. fn
// performs one attempt and classifies its own failure; a nil return
// stops the loop as success. Quota failures wait the fixed cool-down,
// other retryable classes wait an exponential backoff with jitter.
// Every failed attempt counts toward the same ceiling regardless of class.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func(attempt int) *APIError) error {
	var lastErr *APIError
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Execute the attempt
		apiErr := fn(attempt)
		if apiErr == nil {
			// Success
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = apiErr

		// Check if this error class is retryable
		if !shouldRetry(apiErr.Class) {
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= config.MaxAttempts {
			break
		}

		// Record retry metrics
		retriesTotal.WithLabelValues(string(apiErr.Class)).Inc()

		// Quota failures use the fixed cool-down; everything else the
		// exponential schedule with jitter (±20% randomness)
		var wait time.Duration
		if apiErr.Class == ErrorClassQuota {
			wait = config.Cooldown
		} else {
			wait = time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		}
		retryBackoffSeconds.WithLabelValues(string(apiErr.Class)).Observe(wait.Seconds())

		log.Debug().
			Str("error_class", string(apiErr.Class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		// Wait with context cancellation support
		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(apiErr.Class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
			// Continue to next attempt
		}

		// Calculate next backoff (exponential)
		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	// All retries exhausted
	retryExhaustedTotal.WithLabelValues(string(lastErr.Class)).Inc()
	log.Warn().
		Str("error_class", string(lastErr.Class)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
