package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue and cache status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				a.online(cmd.Context())
				st := a.engine.Status()
				return p.emit(st, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s (%s)\n", bold("API:"), a.settings.APIURL, onOff(st.Online))
					fmt.Fprintf(w, "%s %d pending, %d failed\n", bold("Queue:"), st.PendingActions, st.FailedActions)
					conflicts := fmt.Sprint(st.Conflicts)
					if st.Conflicts > 0 {
						conflicts = yellow(conflicts)
					}
					fmt.Fprintf(w, "%s %s\n", bold("Conflicts:"), conflicts)
					fmt.Fprintf(w, "%s %d\n", bold("Snapshots:"), st.Snapshots)
					fmt.Fprintf(w, "%s %s\n\n", bold("Last sync:"), since(st.LastSyncAt))

					last := make(map[synckit.ResourceType]synckit.SyncResult, len(st.LastResults))
					for _, r := range st.LastResults {
						last[r.Resource] = r
					}
					p.table("RESOURCE\tRECORDS\tLAST FETCH", func(tw io.Writer) {
						for _, rt := range synckit.AllResourceTypes() {
							n, ok := st.Resources[rt]
							if !ok {
								continue
							}
							result := faint("-")
							if r, seen := last[rt]; seen {
								result = okFail(r.Success)
							}
							fmt.Fprintf(tw, "%s\t%d\t%s\n", rt, n, result)
						}
					})
				})
			})
		},
	}
}

// NewSyncCommand creates the sync command: drain, then refresh everything.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions and refresh every resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				if !a.online(cmd.Context()) {
					return offlineError(a)
				}
				report, err := a.engine.RunCycle(cmd.Context())
				if report == nil {
					return err
				}
				if perr := p.emit(report, func(w io.Writer) { printCycle(w, p, report) }); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func printCycle(w io.Writer, p *printer, report *synckit.CycleReport) {
	printDrain(w, report.Drain)
	fmt.Fprintln(w)
	printResults(p, report.Results)
	fmt.Fprintf(w, "\nCompleted in %s\n", report.Duration.Round(time.Millisecond))
	if report.RolledBack {
		fmt.Fprintf(w, "%s cache rolled back to snapshot %s\n", red("!"), report.SnapshotID)
	} else if report.RollbackRecommended {
		fmt.Fprintf(w, "%s more failures than successes; restore with: offlinekit snapshots restore %s\n",
			yellow("!"), report.SnapshotID)
	}
}

func printDrain(w io.Writer, d synckit.DrainReport) {
	fmt.Fprintf(w, "%s %d attempted, %s applied, %d retrying, %s exhausted, %d remaining\n",
		bold("Queue:"), d.Attempted,
		green(len(d.Applied)), len(d.Retrying), red(len(d.Exhausted)), d.Remaining)
	if d.Paused {
		fmt.Fprintf(w, "%s drain paused: connection lost\n", yellow("!"))
	}
}

func printResults(p *printer, results []synckit.SyncResult) {
	p.table("RESOURCE\tRESULT\tRECORDS\tERROR", func(tw io.Writer) {
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Resource, okFail(r.Success), r.Records, truncate(r.Error, 60))
		}
	})
}

func offlineError(a *app) error {
	return fmt.Errorf("%s is unreachable; %d action(s) stay queued: %w",
		a.settings.APIURL, a.engine.QueueLength(), syncErrors.ErrOffline)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued actions without refreshing resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				if !a.online(cmd.Context()) {
					return offlineError(a)
				}
				report, err := a.engine.Drain(cmd.Context())
				if perr := p.emit(report, func(w io.Writer) { printDrain(w, report) }); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [resource...]",
		Short: "Fetch resources from the API into the cache",
		Long: `Fetch the named resources, or all of them, and replace the cached
copies. Resources that fail keep their previous cached data.

Resources: ` + strings.Join(resourceNames(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := parseResourceTypes(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app, p *printer) error {
				if !a.online(cmd.Context()) {
					return offlineError(a)
				}
				results, err := a.engine.SyncResources(cmd.Context(), types...)
				if perr := p.emit(results, func(io.Writer) { printResults(p, results) }); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func resourceNames() []string {
	var names []string
	for _, rt := range synckit.AllResourceTypes() {
		names = append(names, string(rt))
	}
	return names
}

// parseResourceTypes accepts "car_brands" and "car-brands" alike.
func parseResourceTypes(args []string) ([]synckit.ResourceType, error) {
	known := make(map[string]synckit.ResourceType)
	for _, rt := range synckit.AllResourceTypes() {
		known[string(rt)] = rt
	}
	var out []synckit.ResourceType
	for _, arg := range args {
		rt, ok := known[strings.ReplaceAll(strings.ToLower(arg), "-", "_")]
		if !ok {
			return nil, fmt.Errorf("unknown resource %q (want one of %s)", arg, strings.Join(resourceNames(), ", "))
		}
		out = append(out, rt)
	}
	return out, nil
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SyncInterval time.Duration
}

// NewRunCommand creates the run command, which keeps the engine running
// until interrupted.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine in the foreground",
		Long: `Run the engine until interrupted: probe connectivity, drain the queue
when the API comes back, run maintenance and, with --sync-interval, a full
sync cycle on a timer.

Example:
  offlinekit run --sync-interval 5m --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []synckit.EngineOption
			if opts.SyncInterval > 0 {
				extra = append(extra, synckit.WithSyncInterval(opts.SyncInterval))
			}
			a, err := openApp(cmd, opts.RootOptions, extra...)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if err := a.engine.Start(ctx); err != nil {
				return err
			}
			if err := a.monitor.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Engine running against %s. Press Ctrl+C to stop.\n", a.settings.APIURL)
			<-ctx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "Shutting down")
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.SyncInterval, "sync-interval", 0, "run a full sync cycle on this interval (0 disables)")
	return cmd
}
