package synckit

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-offline-kit/logging"
)

type requestRecorder struct {
	NoOpMetricsCollector
	mu       sync.Mutex
	outcomes []string
	errors   []string
}

func (r *requestRecorder) RecordRequest(method, endpoint, outcome string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, method+" "+endpoint+" "+outcome)
}

func (r *requestRecorder) RecordSyncErrors(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, operation+":"+errorType)
}

func TestObservableExecutor_RecordsOutcomes(t *testing.T) {
	remote := newFakeRemote()
	remote.on(http.MethodGet, "/products", okJSON(productsBody()))
	remote.on(http.MethodPost, "/cart/add", failConnectivity())
	remote.on(http.MethodPut, "/cart/update", reject(http.StatusConflict))

	rec := &requestRecorder{}
	var requests, responses, failures int
	oe := NewObservableExecutor(remote,
		WithMetricsCollector(rec),
		WithObservableLogger(logging.Discard().Logger),
		WithExecutionHooks(&ExecutionHooks{
			OnRequest:  func(context.Context, Request) { requests++ },
			OnResponse: func(context.Context, Request, *Response, time.Duration) { responses++ },
			OnError:    func(context.Context, Request, error) { failures++ },
		}),
	)

	ctx := context.Background()
	_, err := oe.Execute(ctx, Request{Method: http.MethodGet, Endpoint: "/products"})
	require.NoError(t, err)
	_, err = oe.Execute(ctx, Request{Method: http.MethodPost, Endpoint: "/cart/add"})
	require.Error(t, err)
	_, err = oe.Execute(ctx, Request{Method: http.MethodPut, Endpoint: "/cart/update"})
	require.Error(t, err)

	assert.Equal(t, 3, requests)
	assert.Equal(t, 1, responses)
	assert.Equal(t, 2, failures)
	assert.Equal(t, []string{
		"GET /products ok",
		"POST /cart/add connectivity",
		"PUT /cart/update rejected",
	}, rec.outcomes)
	assert.Equal(t, []string{"execute:connectivity", "execute:rejected"}, rec.errors)
}

func TestObservableExecutor_WithoutOptions(t *testing.T) {
	called := false
	oe := NewObservableExecutor(RemoteExecutorFunc(func(ctx context.Context, req Request) (*Response, error) {
		called = true
		return &Response{Status: http.StatusOK}, nil
	}))
	resp, err := oe.Execute(context.Background(), Request{Method: http.MethodGet, Endpoint: "/health"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "context_canceled", classifyError(context.Canceled))
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	_, err := failConnectivity()(Request{})
	assert.Equal(t, "connectivity", classifyError(err))
	_, err = reject(http.StatusBadRequest)(Request{})
	assert.Equal(t, "rejected", classifyError(err))
	assert.Equal(t, "generic", classifyError(assert.AnError))
}

func TestExponentialBackoff_NextDelay(t *testing.T) {
	eb := ExponentialBackoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, eb.NextDelay(0))
	assert.Equal(t, 200*time.Millisecond, eb.NextDelay(1))
	assert.Equal(t, 800*time.Millisecond, eb.NextDelay(3))
	assert.Equal(t, time.Second, eb.NextDelay(10))
	assert.Equal(t, 100*time.Millisecond, eb.NextDelay(-1))
}

func TestEngine_WithRetryRetriesRetryableFetches(t *testing.T) {
	attempts := 0
	remote := newFakeRemote()
	remote.on(http.MethodGet, "/products", func(req Request) (*Response, error) {
		attempts++
		if attempts < 3 {
			return reject(http.StatusServiceUnavailable)(req)
		}
		return okJSON(productsBody(Product{ID: "p1"}))(req)
	})
	remote.on(http.MethodGet, "/orders", reject(http.StatusBadRequest))
	e, _ := newTestEngine(t, remote, onlyResources(ResourceProducts, ResourceOrders),
		WithRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}))

	results, err := e.SyncResources(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Len(t, remote.callsTo(http.MethodGet, "/orders"), 1, "400 is not retried")
}
