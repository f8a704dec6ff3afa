package synckit

import (
	"context"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// RetryConfig configures in-cycle retries of resource fetches.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int

	// InitialDelay is the initial delay between retries
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases
	Multiplier float64
}

// ExponentialBackoff computes capped exponential delays.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextDelay returns InitialDelay * Multiplier^attempt, capped at MaxDelay.
func (eb ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := eb.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(eb.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if eb.MaxDelay > 0 && time.Duration(delay) > eb.MaxDelay {
			break
		}
	}

	result := time.Duration(delay)
	if eb.MaxDelay > 0 && result > eb.MaxDelay {
		result = eb.MaxDelay
	}
	return result
}

// withRetry runs operation, retrying retryable failures per RetryConfig.
func (e *Engine) withRetry(ctx context.Context, operation func() error) error {
	if e.retry == nil || e.retry.MaxAttempts <= 1 {
		return operation()
	}

	config := e.retry
	eb := ExponentialBackoff{
		InitialDelay: config.InitialDelay,
		MaxDelay:     config.MaxDelay,
		Multiplier:   config.Multiplier,
	}

	err := operation()
	if err == nil {
		return nil
	}
	if !syncErrors.IsRetryable(err) {
		e.logger.Debug("Operation failed with non-retryable error", "error", err)
		return err
	}

	e.logger.Warn("Operation failed with retryable error, starting retry sequence",
		"error", err,
		"max_attempts", config.MaxAttempts)

	for attempt := 1; attempt < config.MaxAttempts; attempt++ {
		delay := eb.NextDelay(attempt - 1)
		e.logger.Debug("Waiting before retry", "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Warn("Retry sequence canceled by context", "error", ctx.Err())
			return err
		case <-timer.C:
		}

		err = operation()
		if err == nil {
			e.logger.Info("Operation succeeded after retry", "attempt", attempt+1)
			return nil
		}
		if !syncErrors.IsRetryable(err) {
			e.logger.Warn("Retry failed with non-retryable error", "attempt", attempt+1, "error", err)
			return err
		}
	}

	e.logger.Error("All retry attempts exhausted",
		"total_attempts", config.MaxAttempts,
		"final_error", err)
	return err
}
