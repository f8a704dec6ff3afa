// Package httptransport is the HTTP RemoteExecutor used to talk to the
// storefront API.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// IdempotencyHeader carries the action id so the server can drop replays.
const IdempotencyHeader = "Idempotency-Key"

// Executor implements synckit.RemoteExecutor over HTTP.
//
// Transport failures (refused connections, timeouts, truncated bodies) are
// reported as connectivity errors. Non-2xx responses are reported as
// server rejections carrying the status code.
type Executor struct {
	baseURL    string
	client     *http.Client
	options    *ClientOptions
	token      TokenSource
	logger     *slog.Logger
	healthPath string
}

var _ synckit.RemoteExecutor = (*Executor)(nil)

// newHTTPClient creates an HTTP client honoring DisableAutoDecompression.
func newHTTPClient(opts *ClientOptions) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = opts.DisableAutoDecompression
	return &http.Client{Transport: tr}
}

// NewExecutor creates an Executor for the API rooted at baseURL, for
// example "https://shop.example.com/api".
func NewExecutor(baseURL string, opts ...ExecutorOption) (*Executor, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	e := &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		options:    DefaultClientOptions(),
		logger:     logging.WithComponent(logging.Component("http-executor")).Logger,
		healthPath: "/health",
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := ValidateClientOptions(e.options); err != nil {
		return nil, fmt.Errorf("invalid client options: %w", err)
	}
	e.options.setDefaults()
	if e.client == nil {
		e.client = newHTTPClient(e.options)
	}
	return e, nil
}

// BaseURL returns the API root the executor talks to.
func (e *Executor) BaseURL() string { return e.baseURL }

// Execute sends req and returns the response body and reported version.
func (e *Executor) Execute(ctx context.Context, req synckit.Request) (*synckit.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.options.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	httpReq, err := e.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("Request failed",
			slog.String("method", req.Method),
			slog.String("endpoint", req.Endpoint),
			slog.String("error", err.Error()))
		return nil, syncErrors.NewConnectivityError(syncErrors.OpExecute,
			fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, err))
	}
	defer resp.Body.Close()

	body, err := e.readBody(resp)
	if err != nil {
		if isPayloadError(err) {
			return nil, syncErrors.NewWithComponent(syncErrors.OpExecute, "transport",
				fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, err))
		}
		return nil, syncErrors.NewConnectivityError(syncErrors.OpExecute,
			fmt.Errorf("%s %s: reading response: %w", req.Method, req.Endpoint, err))
	}

	e.logger.Debug("Request completed",
		slog.String("method", req.Method),
		slog.String("endpoint", req.Endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := extractErrorMessage(body)
		e.logger.Warn("Request rejected by server",
			slog.String("method", req.Method),
			slog.String("endpoint", req.Endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg))
		return nil, syncErrors.NewServerRejectedError(syncErrors.OpExecute, resp.StatusCode,
			fmt.Errorf("%s %s: %s", req.Method, req.Endpoint, msg))
	}

	return &synckit.Response{
		Status:        resp.StatusCode,
		Body:          body,
		ServerVersion: extractVersion(resp.Header, body),
	}, nil
}

func (e *Executor) newRequest(ctx context.Context, req synckit.Request) (*http.Request, error) {
	if !strings.HasPrefix(req.Endpoint, "/") {
		return nil, syncErrors.NewValidationError(syncErrors.OpExecute,
			fmt.Errorf("endpoint %q must start with /", req.Endpoint))
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	payload := []byte(req.Body)
	compressed := false
	if len(payload) > 0 && e.options.CompressionEnabled && len(payload) > e.options.GzipMinBytes {
		gz, err := gzipPayload(payload)
		if err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpExecute, "transport", err)
		}
		e.logger.Debug("Compressed request body",
			slog.Int("original_size", len(payload)),
			slog.Int("compressed_size", len(gz)))
		payload = gz
		compressed = true
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, e.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpExecute, "transport",
			fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	// setting Accept-Encoding by hand turns off Go's transparent decompression
	if e.options.CompressionEnabled && e.options.DisableAutoDecompression {
		httpReq.Header.Set("Accept-Encoding", "gzip")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}
	if e.token != nil {
		token, err := e.token(ctx)
		if err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpExecute, "transport",
				fmt.Errorf("failed to obtain session token: %w", err))
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

func (e *Executor) readBody(resp *http.Response) ([]byte, error) {
	reader, cleanup, err := createSafeResponseReader(resp, e.options)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return io.ReadAll(reader)
}

// isPayloadError reports body errors caused by the payload itself rather
// than the connection.
func isPayloadError(err error) bool {
	return errors.Is(err, errResponseTooLarge) ||
		errors.Is(err, errResponseDecompressedTooLarge) ||
		errors.Is(err, errUnreadableResponse)
}

// Ping probes the health endpoint. A nil error means the API is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	_, err := e.Execute(ctx, synckit.Request{Method: http.MethodGet, Endpoint: e.healthPath})
	return err
}
