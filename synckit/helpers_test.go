package synckit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
)

type handlerFunc func(req Request) (*Response, error)

// fakeRemote is a scriptable RemoteExecutor keyed by "METHOD /path"; query
// strings are ignored when routing.
type fakeRemote struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	calls    []Request
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{handlers: make(map[string]handlerFunc)}
}

func (f *fakeRemote) on(method, endpoint string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[routeKey(method, endpoint)] = h
}

func routeKey(method, endpoint string) string {
	path, _, _ := strings.Cut(endpoint, "?")
	return method + " " + path
}

func (f *fakeRemote) Execute(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncErrors.NewConnectivityError(syncErrors.OpExecute, err)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h, ok := f.handlers[routeKey(req.Method, req.Endpoint)]
	f.mu.Unlock()
	if !ok {
		return nil, syncErrors.NewServerRejectedError(syncErrors.OpExecute, http.StatusNotFound,
			fmt.Errorf("no route for %s %s", req.Method, req.Endpoint))
	}
	return h(req)
}

func (f *fakeRemote) callsTo(method, endpoint string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, c := range f.calls {
		if routeKey(c.Method, c.Endpoint) == routeKey(method, endpoint) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) mutations() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, c := range f.calls {
		if c.Method != http.MethodGet {
			out = append(out, c)
		}
	}
	return out
}

func okJSON(v interface{}) handlerFunc {
	return func(Request) (*Response, error) {
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return &Response{Status: http.StatusOK, Body: body}, nil
	}
}

func failConnectivity() handlerFunc {
	return func(Request) (*Response, error) {
		return nil, syncErrors.NewConnectivityError(syncErrors.OpExecute, fmt.Errorf("connection refused"))
	}
}

func reject(status int) handlerFunc {
	return func(Request) (*Response, error) {
		return nil, syncErrors.NewServerRejectedError(syncErrors.OpExecute, status, fmt.Errorf("status %d", status))
	}
}

// toggleConnectivity is a ConnectivityObserver driven by the test.
type toggleConnectivity struct {
	online atomic.Bool
	mu     sync.Mutex
	subs   []func(bool)
}

func newToggleConnectivity(online bool) *toggleConnectivity {
	c := &toggleConnectivity{}
	c.online.Store(online)
	return c
}

func (c *toggleConnectivity) IsOnline() bool { return c.online.Load() }

func (c *toggleConnectivity) Subscribe(ctx context.Context, fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *toggleConnectivity) set(online bool) {
	c.online.Store(online)
	c.mu.Lock()
	subs := append([]func(bool){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

// fixedClock returns a settable clock for deterministic ages.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, remote RemoteExecutor, opts ...EngineOption) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return newTestEngineOn(t, store, remote, opts...), store
}

// newTestEngineOn builds an engine over an existing store. Closing the
// engine closes the store.
func newTestEngineOn(t *testing.T, store PersistentStore, remote RemoteExecutor, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{
		WithStore(store),
		WithExecutor(remote),
		WithLogger(logging.Discard().Logger),
	}
	e, err := NewEngine(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// onlyResources limits an engine to the given types with default endpoints.
func onlyResources(types ...ResourceType) EngineOption {
	var rs []ResourceConfig
	for _, rt := range types {
		for _, r := range DefaultResources() {
			if r.Type == rt {
				rs = append(rs, r)
			}
		}
	}
	return WithResources(rs...)
}

func newTestPersister(t *testing.T, store PersistentStore) *persister {
	t.Helper()
	p := newPersister(store, logging.Discard().Logger, &NoOpMetricsCollector{}, time.Second)
	t.Cleanup(p.close)
	return p
}

// failingStore fails every write.
type failingStore struct {
	*MemoryStore
	writes atomic.Int64
}

func (s *failingStore) Write(ctx context.Context, key string, value []byte) error {
	s.writes.Add(1)
	return fmt.Errorf("disk full")
}

// reopenableStore ignores Close so a second engine can load what the first
// one wrote.
type reopenableStore struct {
	*MemoryStore
}

func (reopenableStore) Close() error { return nil }
