package fakeapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/internal/fakeapi"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

const token = "device-token"

func setup(t *testing.T) (*synckit.Engine, *fakeapi.Server) {
	t.Helper()
	api := fakeapi.New(fakeapi.WithLogger(logging.Discard().Logger), fakeapi.WithTokens(token))
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	executor, err := httptransport.NewExecutor(srv.URL,
		httptransport.WithToken(token),
		httptransport.WithLogger(logging.Discard().Logger),
	)
	require.NoError(t, err)

	engine, err := synckit.NewEngine(
		synckit.WithStore(synckit.NewMemoryStore()),
		synckit.WithExecutor(executor),
		synckit.WithLogger(logging.Discard().Logger),
		synckit.WithRetry(synckit.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.Load(context.Background()))
	return engine, api
}

func TestEngine_CartEditsConvergeWithServer(t *testing.T) {
	engine, api := setup(t)
	ctx := context.Background()

	_, err := engine.SyncResources(ctx)
	require.NoError(t, err)
	require.Len(t, engine.Products(), 3)
	require.Len(t, engine.Categories(), 4)

	_, err = engine.AddToCart(ctx, "p-oil-filter", 2)
	require.NoError(t, err)
	_, err = engine.UpdateCartItem(ctx, "p-oil-filter", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.QueueLength())
	assert.Equal(t, 0, api.Calls(http.MethodPost, "/cart/add"), "mutations wait for a drain")

	report, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Drain.Applied, 2)
	assert.False(t, report.RollbackRecommended)

	assert.Equal(t, 0, engine.QueueLength())
	assert.Empty(t, engine.Conflicts())
	cart := engine.Cart()
	require.Len(t, cart, 1)
	assert.Equal(t, 3, cart[0].Quantity)
	require.NotNil(t, cart[0].Product)

	server := api.CartOf(token)
	require.Len(t, server, 1)
	assert.Equal(t, 3, server[0].Quantity)
	assert.Equal(t, server[0].Version, cart[0].Version)
}

func TestEngine_PartialFailureKeepsCacheAndConfirmsOrder(t *testing.T) {
	engine, api := setup(t)
	ctx := context.Background()

	_, err := engine.SyncResources(ctx)
	require.NoError(t, err)
	_, err = engine.AddToCart(ctx, "p-brake-pad", 1)
	require.NoError(t, err)
	local, _, err := engine.CreateOrder(ctx, synckit.OrderRequest{
		FirstName: "Omar", LastName: "Said", Phone: "0111", StreetAddress: "5 Tahrir Sq", City: "Cairo",
	})
	require.NoError(t, err)
	assert.True(t, local.Local)
	assert.Empty(t, engine.Cart())

	api.Inject(http.MethodGet, "/products", fakeapi.Fault{Status: http.StatusInternalServerError})

	report, err := engine.RunCycle(ctx)
	require.Error(t, err)
	var partial *syncErrors.PartialSyncError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{string(synckit.ResourceProducts)}, partial.FailedResources)

	for _, r := range report.Results {
		assert.Equal(t, r.Resource != synckit.ResourceProducts, r.Success, r.Resource)
	}
	assert.Len(t, engine.Products(), 3, "cached products survive a failed fetch")
	assert.Len(t, report.Drain.Applied, 2)

	orders := engine.Orders()
	require.Len(t, orders, 1)
	placed := api.OrdersOf(token)
	require.Len(t, placed, 1)
	assert.Equal(t, placed[0].ID, orders[0].ID, "the local order is replaced by the confirmed one")
	assert.False(t, orders[0].Local)
	assert.Equal(t, 1000.0, orders[0].Total)
}

func TestEngine_ServerEditWhilePendingRaisesConflict(t *testing.T) {
	engine, api := setup(t)
	ctx := context.Background()

	_, err := engine.AddToCart(ctx, "p-air-filter", 1)
	require.NoError(t, err)
	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	_, err = engine.UpdateCartItem(ctx, "p-air-filter", 4)
	require.NoError(t, err)
	api.SetCartQuantity(token, "p-air-filter", 9)

	_, err = engine.SyncResources(ctx, synckit.ResourceCart)
	require.NoError(t, err)
	conflicts := engine.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "p-air-filter", conflicts[0].ResourceID)

	_, err = engine.Resolve(ctx, synckit.ResourceCart, "p-air-filter", true)
	require.NoError(t, err)
	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Empty(t, engine.Conflicts())
	assert.Equal(t, 4, api.CartOf(token)[0].Quantity, "keep-local re-asserts the local quantity")
	assert.Equal(t, 4, engine.Cart()[0].Quantity)
}

func TestEngine_DroppedConnectionPausesDrain(t *testing.T) {
	engine, api := setup(t)
	ctx := context.Background()

	_, err := engine.AddToCart(ctx, "p-oil-filter", 1)
	require.NoError(t, err)
	api.Inject(http.MethodPost, "/cart/add", fakeapi.Fault{Drop: true, Times: 1})

	report, err := engine.Drain(ctx)
	require.NoError(t, err, "a paused drain is not an error")
	assert.True(t, report.Paused)
	assert.Equal(t, 1, engine.QueueLength())
	pending := engine.PendingActions()
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount, "connectivity failures do not consume retries")

	report, err = engine.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Applied, 1)
	assert.Equal(t, 1, api.CartOf(token)[0].Quantity)
}
