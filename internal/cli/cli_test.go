package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/internal/fakeapi"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// isolate keeps tests away from the developer's .env and config files.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func quietOptions() *RootOptions {
	return &RootOptions{
		NewLogger: func(*cobra.Command, bool) *slog.Logger { return logging.Discard().Logger },
	}
}

// run executes one CLI invocation against apiURL with state kept in dbPath.
func run(t *testing.T, apiURL, dbPath string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRootCommand(quietOptions())
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--api-url", apiURL, "--db", dbPath, "--timeout", "2s"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestParseResourceTypes(t *testing.T) {
	types, err := parseResourceTypes([]string{"products", "car-brands", "Product_Brands"})
	require.NoError(t, err)
	assert.Equal(t, []synckit.ResourceType{
		synckit.ResourceProducts, synckit.ResourceCarBrands, synckit.ResourceProductBrands,
	}, types)

	_, err = parseResourceTypes([]string{"wishlist"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown resource "wishlist"`)

	types, err = parseResourceTypes(nil)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestLoadSettingsPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("OFFLINEKIT_API_URL", "http://env.local/api")
	t.Setenv("OFFLINEKIT_TOKEN", "env-token")

	opts := quietOptions()
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--token", "flag-token"}))

	s, err := loadSettings(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "http://env.local/api", s.APIURL)
	assert.Equal(t, "flag-token", s.Token)
	assert.Equal(t, "kv_store", s.TableName)
	assert.Equal(t, 30*time.Second, s.Timeout)
}

func TestLoadSettingsFromConfigFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "offlinekit.yaml")
	require.NoError(t, writeFile(path, "api-url: http://file.local/api\ntable: shop_state\ntimeout: 5s\n"))
	t.Setenv("OFFLINEKIT_TABLE", "env_state")

	opts := quietOptions()
	opts.ConfigFile = path
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags(nil))

	s, err := loadSettings(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "http://file.local/api", s.APIURL)
	assert.Equal(t, "env_state", s.TableName)
	assert.Equal(t, 5*time.Second, s.Timeout)
}

func TestLoadSettingsFromEnvFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "dev.env")
	require.NoError(t, writeFile(path, "OFFLINEKIT_API_URL=http://dotenv.local/api\n"))
	// restored on cleanup; godotenv never overrides a variable that is set
	t.Setenv("OFFLINEKIT_API_URL", "")
	require.NoError(t, os.Unsetenv("OFFLINEKIT_API_URL"))

	opts := quietOptions()
	opts.EnvFile = path
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags(nil))

	s, err := loadSettings(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "http://dotenv.local/api", s.APIURL)
}

func TestInvalidFormat(t *testing.T) {
	isolate(t)
	_, err := run(t, "http://localhost:1/api", filepath.Join(t.TempDir(), "state.db"), "--format", "yaml", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestCartAddSyncAndStatus(t *testing.T) {
	isolate(t)
	api := fakeapi.New(fakeapi.WithLogger(logging.Discard().Logger))
	srv := httptest.NewServer(api)
	defer srv.Close()
	db := filepath.Join(t.TempDir(), "state.db")

	out, err := run(t, srv.URL, db, "cart", "add", "p-oil-filter", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "p-oil-filter")
	assert.Contains(t, out, "queued as")
	assert.Empty(t, api.CartOf(fakeapi.GuestUser), "nothing is sent before a sync")

	out, err = run(t, srv.URL, db, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/cart/add")

	out, err = run(t, srv.URL, db, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 attempted")
	assert.Contains(t, out, "0 remaining")

	cart := api.CartOf(fakeapi.GuestUser)
	require.Len(t, cart, 1)
	assert.Equal(t, 2, cart[0].Quantity)

	out, err = run(t, srv.URL, db, "--format", "json", "cart")
	require.NoError(t, err)
	var items []synckit.CartItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "p-oil-filter", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)

	out, err = run(t, srv.URL, db, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0 pending, 0 failed")
	assert.Contains(t, out, "products")
}

func TestSyncOfflineKeepsQueue(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(fakeapi.New(fakeapi.WithLogger(logging.Discard().Logger)))
	url := srv.URL
	srv.Close()
	db := filepath.Join(t.TempDir(), "state.db")

	_, err := run(t, url, db, "favorite", "toggle", "p-brake-pad")
	require.NoError(t, err)

	_, err = run(t, url, db, "sync")
	require.Error(t, err)
	assert.ErrorIs(t, err, syncErrors.ErrOffline)
	assert.Contains(t, err.Error(), "1 action(s) stay queued")
}

func TestOrderPlaceOffline(t *testing.T) {
	isolate(t)
	db := filepath.Join(t.TempDir(), "state.db")
	url := "http://127.0.0.1:1/api"

	_, err := run(t, url, db, "cart", "add", "p-air-filter")
	require.NoError(t, err)

	out, err := run(t, url, db, "--format", "json", "order", "place",
		"--first-name", "Mona", "--last-name", "Adel", "--email", "mona@example.com",
		"--phone", "0100", "--street", "1 Nile St", "--city", "Cairo", "--state", "Cairo")
	require.NoError(t, err)
	var order synckit.Order
	require.NoError(t, json.Unmarshal([]byte(out), &order))
	assert.True(t, order.Local)
	assert.Equal(t, synckit.OrderStatusPending, order.Status)

	out, err = run(t, url, db, "order")
	require.NoError(t, err)
	assert.Contains(t, out, "(not sent)")
}

func TestSnapshotsCreateAndList(t *testing.T) {
	isolate(t)
	db := filepath.Join(t.TempDir(), "state.db")
	url := "http://127.0.0.1:1/api"

	out, err := run(t, url, db, "snapshots", "create", "before sale")
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	out, err = run(t, url, db, "snapshots", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "before sale")
}

func TestServeFakeStopsOnCancel(t *testing.T) {
	isolate(t)
	buf := &bytes.Buffer{}
	cmd := newRootCommand(quietOptions())
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"serve-fake", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, buf.String(), "listening on http://127.0.0.1:")
}

func TestWatchNeedsPostgres(t *testing.T) {
	isolate(t)
	_, err := run(t, "http://127.0.0.1:1/api", filepath.Join(t.TempDir(), "state.db"), "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--postgres-dsn")
}
