package synckit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// PersistentStore is the durable key-value store the engine writes through
// to. Implementations live in storage/sqlite and storage/postgres.
type PersistentStore interface {
	// Read returns the blob stored under key. ok is false when key is absent.
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)

	Write(ctx context.Context, key string, value []byte) error

	Delete(ctx context.Context, key string) error

	Close() error
}

// BatchWriter is implemented by stores that can write several keys in one
// transaction. The background writer uses it to flush a coalesced batch.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entries map[string][]byte) error
}

// ErrStoreClosed is returned by MemoryStore after Close.
var ErrStoreClosed = errors.New("store is closed")

// MemoryStore is a PersistentStore kept in process memory. Useful for tests
// and for running the engine without durability.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *MemoryStore) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Keys lists the stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// persister performs write-through in the background. Writes are coalesced
// per key so only the newest blob for a key reaches the store. Failures are
// logged and counted; they never block or fail the in-memory path.
type persister struct {
	store   PersistentStore
	logger  *slog.Logger
	metrics MetricsCollector
	timeout time.Duration

	mu      sync.Mutex
	pending map[string][]byte
	busy    bool
	waiters []chan struct{}

	failures atomic.Int64

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newPersister(store PersistentStore, logger *slog.Logger, metrics MetricsCollector, timeout time.Duration) *persister {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &persister{
		store:   store,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// put schedules blob to be written under key.
func (p *persister) put(key string, blob []byte) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.pending[key] = blob
	p.mu.Unlock()
	p.signal()
}

// writeNow writes synchronously, superseding any queued blob for key.
func (p *persister) writeNow(ctx context.Context, key string, blob []byte) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()
	return p.write(ctx, key, blob)
}

// flush blocks until every queued write has been attempted.
func (p *persister) flush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if len(p.pending) == 0 && !p.busy {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()
	p.signal()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) failureCount() int64 {
	if p == nil {
		return 0
	}
	return p.failures.Load()
}

// close drains outstanding writes and stops the writer goroutine.
func (p *persister) close() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			waiters := p.waiters
			p.waiters = nil
			p.busy = false
			p.mu.Unlock()
			for _, w := range waiters {
				close(w)
			}
			return
		}
		batch := p.pending
		p.pending = make(map[string][]byte)
		p.busy = true
		p.mu.Unlock()

		p.writeBatch(batch)
	}
}

func (p *persister) writeBatch(batch map[string][]byte) {
	if bw, ok := p.store.(BatchWriter); ok && len(batch) > 1 {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := bw.WriteBatch(ctx, batch)
		cancel()
		if err == nil {
			return
		}
		failedKey, _ := syncErrors.StoreKey(err)
		p.logger.Warn("Batch write failed, retrying keys individually",
			"keys", len(batch),
			"failed_key", failedKey,
			"error", err)
	}
	for key, blob := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		_ = p.write(ctx, key, blob)
		cancel()
	}
}

func (p *persister) write(ctx context.Context, key string, blob []byte) error {
	if err := p.store.Write(ctx, key, blob); err != nil {
		p.failures.Add(1)
		p.metrics.RecordSyncErrors("persist", "write_failure")
		p.logger.Warn("Write-through to persistent store failed",
			"key", key,
			"bytes", len(blob),
			"error", err)
		return syncErrors.NewPersistenceError(syncErrors.OpStore, key, err)
	}
	return nil
}
