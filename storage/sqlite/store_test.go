package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

func setupTestDB(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline.db")
	config := DefaultConfig(path)
	config.Logger = logging.Discard().Logger

	store, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStore_ReadWriteDelete(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := store.Read(ctx, "cache/products"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := store.Write(ctx, "cache/products", []byte(`[{"id":"p1"}]`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(ctx, "cache/products", []byte(`[{"id":"p2"}]`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got, ok, err := store.Read(ctx, "cache/products")
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if string(got) != `[{"id":"p2"}]` {
		t.Errorf("expected last write to win, got %s", got)
	}

	if err := store.Delete(ctx, "cache/products"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "cache/products"); err != nil {
		t.Errorf("deleting an absent key should succeed, got %v", err)
	}
	if _, ok, _ := store.Read(ctx, "cache/products"); ok {
		t.Error("expected key to be gone after Delete")
	}
}

func TestStore_WriteBatch(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	entries := map[string][]byte{
		"queue/actions":      []byte(`[]`),
		"conflicts/versions": []byte(`{}`),
		"snapshots/history":  []byte(`[]`),
	}
	if err := store.WriteBatch(ctx, entries); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"conflicts/versions", "queue/actions", "snapshots/history"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("expected keys %v, got %v", want, keys)
	}
}

func TestStore_FailureCarriesKey(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	if _, err := store.db.ExecContext(ctx, "DROP TABLE "+store.tableName); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	err := store.Write(ctx, "queue/actions", []byte(`[]`))
	if !syncErrors.IsRetryable(err) {
		t.Fatalf("expected a retryable storage failure, got %v", err)
	}
	if key, ok := syncErrors.StoreKey(err); !ok || key != "queue/actions" {
		t.Errorf("StoreKey = %q, %v", key, ok)
	}

	_, err = store.Keys(ctx)
	if err == nil {
		t.Fatal("expected Keys to fail")
	}
	if _, ok := syncErrors.StoreKey(err); ok {
		t.Error("whole-table failures carry no key")
	}
}

func TestStore_ContextCancellation(t *testing.T) {
	store, _ := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Write(ctx, "k", []byte("v"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestStore_Close(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	if _, _, err := store.Read(ctx, "k"); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed from Read, got %v", err)
	}
	if err := store.Write(ctx, "k", []byte("v")); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed from Write, got %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Expected no error on second close, got %v", err)
	}
}

func TestStore_Config(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.db")
	config := &Config{
		DataSourceName:  path,
		EnableWAL:       true,
		Logger:          logging.Discard().Logger,
		TableName:       "engine_state",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}

	store, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create store with config: %v", err)
	}
	defer store.Close()

	if !strings.Contains(config.DataSourceName, "_journal_mode=WAL") {
		t.Errorf("Expected DataSourceName to contain '_journal_mode=WAL', got: %s", config.DataSourceName)
	}
	if stats := store.Stats(); stats.MaxOpenConnections != 10 {
		t.Errorf("Expected MaxOpenConnections to be 10, got %d", stats.MaxOpenConnections)
	}
	if err := store.Write(context.Background(), "k", []byte("v")); err != nil {
		t.Errorf("Write to custom table failed: %v", err)
	}
}

func TestNew_RequiresDataSource(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{Logger: logging.Discard().Logger}); err == nil {
		t.Error("expected error for empty DataSourceName")
	}
}

// TestStore_EngineStateSurvivesReopen runs the engine against a file,
// closes it and reopens the same file with a fresh engine.
func TestStore_EngineStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.db")

	remote := synckit.RemoteExecutorFunc(func(ctx context.Context, req synckit.Request) (*synckit.Response, error) {
		if req.Method == http.MethodGet && strings.HasPrefix(req.Endpoint, "/products") {
			body, _ := json.Marshal(map[string]any{
				"products": []map[string]any{{"id": "p1", "name": "Brake pad", "price": 120, "sku": "BP-1", "stock_quantity": 4}},
				"total":    1,
			})
			return &synckit.Response{Status: http.StatusOK, Body: body}, nil
		}
		return &synckit.Response{Status: http.StatusOK, Body: []byte(`{}`)}, nil
	})

	open := func() *synckit.Engine {
		store, err := NewWithDataSource(path)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		engine, err := synckit.NewEngine(
			synckit.WithStore(store),
			synckit.WithExecutor(remote),
			synckit.WithLogger(logging.Discard().Logger),
		)
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		if err := engine.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		return engine
	}

	first := open()
	if _, err := first.SyncResources(ctx, synckit.ResourceProducts); err != nil {
		t.Fatalf("SyncResources: %v", err)
	}
	if _, err := first.AddToCart(ctx, "p1", 2); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := open()
	defer second.Close()

	if n := len(second.Products()); n != 1 {
		t.Errorf("expected 1 cached product after reopen, got %d", n)
	}
	if n := second.QueueLength(); n != 1 {
		t.Errorf("expected the queued cart action to survive, got %d", n)
	}
	if cart := second.Cart(); len(cart) != 1 || cart[0].Quantity != 2 {
		t.Errorf("expected optimistic cart line with quantity 2, got %+v", cart)
	}
}
