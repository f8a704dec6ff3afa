package synckit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// ObservableExecutor wraps any RemoteExecutor to provide metrics, logging
// and hooks around every request.
type ObservableExecutor struct {
	wrapped RemoteExecutor
	metrics MetricsCollector
	logger  *slog.Logger
	hooks   *ExecutionHooks
}

// ExecutionHooks provides callbacks for observing requests.
type ExecutionHooks struct {
	OnRequest  func(ctx context.Context, req Request)
	OnResponse func(ctx context.Context, req Request, resp *Response, duration time.Duration)
	OnError    func(ctx context.Context, req Request, err error)
}

// ObservableOption provides configuration for ObservableExecutor.
type ObservableOption interface {
	apply(*ObservableExecutor)
}

type observableOptionFunc func(*ObservableExecutor)

func (f observableOptionFunc) apply(oe *ObservableExecutor) {
	f(oe)
}

// WithMetricsCollector sets the metrics collector for the executor.
func WithMetricsCollector(mc MetricsCollector) ObservableOption {
	return observableOptionFunc(func(oe *ObservableExecutor) {
		oe.metrics = mc
	})
}

// WithObservableLogger sets the logger for the executor.
func WithObservableLogger(logger *slog.Logger) ObservableOption {
	return observableOptionFunc(func(oe *ObservableExecutor) {
		oe.logger = logger
	})
}

// WithExecutionHooks sets the request hooks.
func WithExecutionHooks(hooks *ExecutionHooks) ObservableOption {
	return observableOptionFunc(func(oe *ObservableExecutor) {
		oe.hooks = hooks
	})
}

// NewObservableExecutor wraps executor.
func NewObservableExecutor(executor RemoteExecutor, opts ...ObservableOption) *ObservableExecutor {
	oe := &ObservableExecutor{wrapped: executor}
	for _, opt := range opts {
		opt.apply(oe)
	}
	return oe
}

// Execute implements RemoteExecutor.
func (oe *ObservableExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if oe.hooks != nil && oe.hooks.OnRequest != nil {
		oe.hooks.OnRequest(ctx, req)
	}
	if oe.logger != nil {
		oe.logger.Debug("Executing request", "method", req.Method, "endpoint", req.Endpoint)
	}

	resp, err := oe.wrapped.Execute(ctx, req)
	duration := time.Since(start)

	if err != nil {
		outcome := classifyError(err)
		if oe.metrics != nil {
			oe.metrics.RecordSyncErrors("execute", outcome)
			if ext, ok := oe.metrics.(ExecutorMetricsCollector); ok {
				ext.RecordRequest(req.Method, req.Endpoint, outcome, duration)
			}
		}
		if oe.hooks != nil && oe.hooks.OnError != nil {
			oe.hooks.OnError(ctx, req, err)
		}
		if oe.logger != nil {
			oe.logger.Warn("Request failed",
				"method", req.Method,
				"endpoint", req.Endpoint,
				"outcome", outcome,
				"duration", duration,
				"error", err)
		}
		return resp, err
	}

	if oe.metrics != nil {
		if ext, ok := oe.metrics.(ExecutorMetricsCollector); ok {
			ext.RecordRequest(req.Method, req.Endpoint, "ok", duration)
		}
	}
	if oe.hooks != nil && oe.hooks.OnResponse != nil {
		oe.hooks.OnResponse(ctx, req, resp, duration)
	}
	if oe.logger != nil {
		oe.logger.Debug("Request completed",
			"method", req.Method,
			"endpoint", req.Endpoint,
			"status", resp.Status,
			"duration", duration)
	}
	return resp, nil
}

// classifyError maps an error to a short label for metrics.
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case syncErrors.IsConnectivity(err):
		return "connectivity"
	case syncErrors.IsServerRejected(err):
		return "rejected"
	default:
		return "generic"
	}
}
