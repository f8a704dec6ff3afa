package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued offline actions",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueRetryCommand(opts))
	cmd.AddCommand(newQueueRemoveCommand(opts))
	cmd.AddCommand(newQueuePurgeCommand(opts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				actions := a.engine.PendingActions()
				return p.emit(actions, func(w io.Writer) {
					if len(actions) == 0 {
						fmt.Fprintln(w, "Queue is empty")
						return
					}
					p.table("ID\tKIND\tREQUEST\tSTATUS\tRETRIES\tCREATED\tLAST ERROR", func(tw io.Writer) {
						for _, act := range actions {
							fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%d/%d\t%s\t%s\n",
								act.ID, act.Kind, act.Method, act.Endpoint, actionStatus(act.Status),
								act.RetryCount, act.MaxRetries, since(act.CreatedAt), truncate(act.LastError, 40))
						}
					})
				})
			})
		},
	}
}

func actionStatus(s synckit.ActionStatus) string {
	switch s {
	case synckit.StatusFailed:
		return red(string(s))
	case synckit.StatusProcessing:
		return yellow(string(s))
	default:
		return string(s)
	}
}

func newQueueRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <action-id>",
		Short: "Re-arm a failed action so the next drain replays it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				if err := a.engine.RetryAction(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(p.w, "%s action %s re-queued\n", green("✓"), args[0])
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <action-id>",
		Short: "Drop an action without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				removed, err := a.engine.RemoveAction(args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no queued action %s", args[0])
				}
				fmt.Fprintf(p.w, "%s action %s removed\n", green("✓"), args[0])
				return nil
			})
		},
	}
}

func newQueuePurgeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run maintenance: purge stale actions and settled version entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				report := a.engine.RunMaintenance(cmd.Context())
				return p.emit(report, func(w io.Writer) {
					fmt.Fprintf(w, "Purged %d stale action(s) and %d version entr(ies); cleared %d flag(s)\n",
						report.PurgedActions, report.PurgedVersions, report.ClearedFlags)
				})
			})
		},
	}
}
