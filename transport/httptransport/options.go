package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// TokenSource returns the session token sent as a bearer credential. An
// empty token sends no Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.client = cl
	}
}

// WithClientOptions replaces the size and compression settings.
func WithClientOptions(opts ...ClientOption) ExecutorOption {
	return func(e *Executor) {
		for _, opt := range opts {
			opt(e.options)
		}
	}
}

// WithToken sends a fixed bearer token.
func WithToken(token string) ExecutorOption {
	return func(e *Executor) {
		e.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithTokenSource fetches the bearer token per request.
func WithTokenSource(src TokenSource) ExecutorOption {
	return func(e *Executor) {
		e.token = src
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHealthPath sets the endpoint probed by Ping. Defaults to "/health".
func WithHealthPath(path string) ExecutorOption {
	return func(e *Executor) {
		e.healthPath = path
	}
}

// ClientOption is a function that configures a ClientOptions struct
type ClientOption func(*ClientOptions)

// WithClientCompression enables or disables request/response compression
func WithClientCompression(enabled bool) ClientOption {
	return func(opts *ClientOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithGzipMinBytes sets the smallest request body that is compressed.
func WithGzipMinBytes(n int) ClientOption {
	return func(opts *ClientOptions) {
		opts.GzipMinBytes = n
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies
func WithMaxResponseSize(compressed, decompressed int64) ClientOption {
	return func(opts *ClientOptions) {
		opts.MaxResponseSize = compressed
		opts.MaxDecompressedResponseSize = decompressed
	}
}

func WithAutoDecompression(enabled bool) ClientOption {
	return func(opts *ClientOptions) {
		opts.DisableAutoDecompression = !enabled
	}
}

// WithClientTimeout sets the timeout for requests whose context has no
// deadline.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(opts *ClientOptions) {
		opts.RequestTimeout = timeout
	}
}
