// Package cli implements the offlinekit command line: a thin shell over a
// synckit.Engine persisted on disk and talking to a storefront API.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	Verbose    bool
	Format     string // "text" | "json"

	// NewLogger overrides logger construction (for testing).
	NewLogger func(cmd *cobra.Command, verbose bool) *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the offlinekit CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offlinekit",
		Short: "Offline-first storefront cache and sync engine",
		Long: `offlinekit keeps a local copy of the storefront catalog, cart,
favorites and orders, queues edits made while offline and replays them
against the API once it is reachable again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default ./offlinekit.yaml or ~/.offlinekit/offlinekit.yaml)")
	pf.StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env when present)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.String("api-url", "", "storefront API base URL")
	pf.String("token", "", "session token sent as a bearer credential")
	pf.String("db", "", "SQLite database holding engine state")
	pf.String("postgres-dsn", "", "use PostgreSQL for engine state instead of SQLite")
	pf.String("table", "", "key-value table name")
	pf.String("engine-config", "", "engine YAML/JSON config file")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.Duration("timeout", 0, "per-request timeout")
	pf.Duration("probe-interval", 0, "connectivity probe interval")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewCartCommand(opts))
	cmd.AddCommand(NewFavoriteCommand(opts))
	cmd.AddCommand(NewOrderCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewSnapshotsCommand(opts))
	cmd.AddCommand(NewServeFakeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	if o.NewLogger != nil {
		return o.NewLogger(cmd, o.Verbose)
	}
	config := logging.GetConfigFromEnv()
	config.Format = "text"
	switch {
	case o.Verbose:
		config.Level = "debug"
	case os.Getenv("LOG_LEVEL") == "":
		config.Level = "warn"
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), config).Logger
}

// shutdownTimeout bounds flushing and server shutdown when a command exits.
const shutdownTimeout = 5 * time.Second
