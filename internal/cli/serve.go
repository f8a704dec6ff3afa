package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/internal/fakeapi"
	"github.com/c0deZ3R0/go-offline-kit/storage/postgres"
)

// ServeOptions holds flags for the serve-fake command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	Tokens []string
}

// NewServeFakeCommand creates the serve-fake command.
func NewServeFakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run an in-memory storefront API for local development",
		Long: `Run an in-memory storefront API with a small seeded catalog. It serves
the same routes and envelopes as the production API, versions every cart
line, favorite and order, and honors Idempotency-Key.

Routes are mounted under /api, matching the default --api-url.

Example:
  offlinekit serve-fake --addr :8001
  offlinekit sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveFake(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8001", "listen address")
	cmd.Flags().StringSliceVar(&opts.Tokens, "require-token", nil, "accepted session tokens (default: no auth)")
	return cmd
}

func serveFake(cmd *cobra.Command, opts *ServeOptions) error {
	logger := opts.logger(cmd)
	serverOpts := []fakeapi.Option{fakeapi.WithLogger(logger)}
	if len(opts.Tokens) > 0 {
		serverOpts = append(serverOpts, fakeapi.WithTokens(opts.Tokens...))
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return err
	}
	r := chi.NewRouter()
	r.Mount("/api", fakeapi.New(serverOpts...))
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	fmt.Fprintf(cmd.OutOrStdout(), "Fake storefront API listening on http://%s/api\n", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewWatchCommand creates the watch command, which prints engine state
// changes written to a shared PostgreSQL table by any device.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow engine state changes in PostgreSQL",
		Long: `Print every key written or deleted in the PostgreSQL state table,
as reported by LISTEN/NOTIFY. Requires --postgres-dsn.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, opts)
			if err != nil {
				return err
			}
			if settings.PostgresDSN == "" {
				return fmt.Errorf("watch needs --postgres-dsn")
			}
			store, err := postgres.New(&postgres.Config{
				ConnectionString: settings.PostgresDSN,
				TableName:        settings.TableName,
				Logger:           opts.logger(cmd),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching channel %s\n", store.Channel())
			err = store.Watch(cmd.Context(), func(c postgres.KeyChange) {
				op := green(c.Op)
				if c.Op == "delete" {
					op = red(c.Op)
				}
				fmt.Fprintf(out, "%s %-6s %s\n", faint(time.Now().Format("15:04:05")), op, c.Key)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
