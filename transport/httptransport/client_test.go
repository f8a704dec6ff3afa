package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

func newTestExecutor(t *testing.T, srv *httptest.Server, opts ...ExecutorOption) *Executor {
	t.Helper()
	base := []ExecutorOption{WithLogger(logging.Discard().Logger)}
	e, err := NewExecutor(srv.URL+"/api", append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func TestNewExecutor_Validation(t *testing.T) {
	_, err := NewExecutor("not a url")
	require.Error(t, err)

	_, err = NewExecutor("http://shop.local", WithClientOptions(WithGzipMinBytes(-1)))
	require.Error(t, err)

	_, err = NewExecutor("http://shop.local", WithClientOptions(WithMaxResponseSize(100, 10)))
	require.Error(t, err)

	e, err := NewExecutor("http://shop.local/api/")
	require.NoError(t, err)
	assert.Equal(t, "http://shop.local/api", e.BaseURL())
}

func TestExecutor_SendsHeadersAndReadsVersion(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set(VersionHeader, "7")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Added to cart"}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv, WithToken("session-123"))
	resp, err := e.Execute(context.Background(), synckit.Request{
		Method:         http.MethodPost,
		Endpoint:       "/cart/add",
		Body:           json.RawMessage(`{"product_id":"p1","quantity":1}`),
		IdempotencyKey: "action-1",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int64(7), resp.ServerVersion)
	assert.JSONEq(t, `{"message":"Added to cart"}`, string(resp.Body))

	require.NotNil(t, got)
	assert.Equal(t, "/api/cart/add", got.URL.Path)
	assert.Equal(t, "action-1", got.Header.Get(IdempotencyHeader))
	assert.Equal(t, "Bearer session-123", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Empty(t, got.Header.Get("Content-Encoding"), "small bodies are sent uncompressed")
	assert.JSONEq(t, `{"product_id":"p1","quantity":1}`, string(gotBody))
}

func TestExecutor_CompressesLargeBodies(t *testing.T) {
	var encoding string
	var decoded []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Content-Encoding")
		gz, err := gzip.NewReader(r.Body)
		if err == nil {
			decoded, _ = io.ReadAll(gz)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1","version":3}`))
	}))
	defer srv.Close()

	payload, _ := json.Marshal(map[string]string{"notes": strings.Repeat("x", 4096)})
	e := newTestExecutor(t, srv)
	resp, err := e.Execute(context.Background(), synckit.Request{Method: http.MethodPost, Endpoint: "/orders", Body: payload})
	require.NoError(t, err)

	assert.Equal(t, "gzip", encoding)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, int64(3), resp.ServerVersion, "version read from the body")
}

func TestExecutor_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		retryable  bool
		message    string
	}{
		{name: "validation", status: http.StatusBadRequest, body: `{"detail":"Cart is empty"}`, wantStatus: 400, message: "Cart is empty"},
		{name: "not found", status: http.StatusNotFound, body: `{"error":"no such product"}`, wantStatus: 404, message: "no such product"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `slow down`, wantStatus: 429, retryable: true, message: "slow down"},
		{name: "server error", status: http.StatusBadGateway, body: ``, wantStatus: 502, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestExecutor(t, srv).Execute(context.Background(), synckit.Request{Method: http.MethodPut, Endpoint: "/cart/update"})
			require.Error(t, err)
			assert.True(t, syncErrors.IsServerRejected(err))
			assert.False(t, syncErrors.IsConnectivity(err))
			assert.Equal(t, tt.wantStatus, syncErrors.StatusCode(err))
			assert.Equal(t, tt.retryable, syncErrors.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestExecutor_UnreachableServerIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := NewExecutor(url, WithLogger(logging.Discard().Logger))
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), synckit.Request{Method: http.MethodGet, Endpoint: "/products"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsConnectivity(err))
	assert.Error(t, e.Ping(context.Background()))
}

func TestExecutor_TimeoutIsConnectivity(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	e := newTestExecutor(t, srv, WithClientOptions(WithClientTimeout(50*time.Millisecond)))
	_, err := e.Execute(context.Background(), synckit.Request{Method: http.MethodGet, Endpoint: "/products"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsConnectivity(err))
}

func TestExecutor_GzipResponseWithinLimits(t *testing.T) {
	body := []byte(`{"products":[],"total":0,"padding":"` + strings.Repeat("a", 2048) + `"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, _ = gw.Write(body)
		_ = gw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv, WithClientOptions(WithAutoDecompression(false)))
	resp, err := e.Execute(context.Background(), synckit.Request{Method: http.MethodGet, Endpoint: "/products"})
	require.NoError(t, err)
	assert.Equal(t, body, resp.Body)

	small := newTestExecutor(t, srv, WithClientOptions(WithAutoDecompression(false), WithMaxResponseSize(1024, 1024)))
	_, err = small.Execute(context.Background(), synckit.Request{Method: http.MethodGet, Endpoint: "/products"})
	require.Error(t, err)
	assert.False(t, syncErrors.IsConnectivity(err), "oversized bodies are not a network problem")
	assert.ErrorIs(t, err, errResponseDecompressedTooLarge)
}

func TestExecutor_TokenSourceError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	e := newTestExecutor(t, srv, WithTokenSource(func(context.Context) (string, error) {
		return "", assert.AnError
	}))
	_, err := e.Execute(context.Background(), synckit.Request{Method: http.MethodGet, Endpoint: "/cart"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestExecutor_RejectsRelativeEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestExecutor(t, srv).Execute(context.Background(), synckit.Request{Endpoint: "cart"})
	require.Error(t, err)
	assert.False(t, syncErrors.IsConnectivity(err))
}

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   int64
	}{
		{name: "header wins", header: "12", body: `{"version":3}`, want: 12},
		{name: "body fallback", body: `{"version":4,"id":"x"}`, want: 4},
		{name: "bad header falls back", header: "abc", body: `{"version":5}`, want: 5},
		{name: "array body", body: `[{"version":9}]`, want: 0},
		{name: "string version", body: `{"version":"2.0.0"}`, want: 0},
		{name: "none", body: `{}`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set(VersionHeader, tt.header)
			}
			assert.Equal(t, tt.want, extractVersion(h, []byte(tt.body)))
		})
	}
}
