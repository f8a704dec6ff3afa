package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewConflictsCommand creates the conflicts command group.
func NewConflictsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List and resolve records changed on the server while edits were queued",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				conflicts := a.engine.Conflicts()
				return p.emit(conflicts, func(w io.Writer) {
					if len(conflicts) == 0 {
						fmt.Fprintln(w, green("No conflicts"))
						return
					}
					p.table("RESOURCE\tID\tBASE\tSERVER\tPENDING\tCHANGED", func(tw io.Writer) {
						for _, c := range conflicts {
							fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
								c.ResourceType, c.ResourceID, c.ServerVersion,
								yellow(c.ObservedVersion), c.PendingEdits, since(c.LastModified))
						}
					})
				})
			})
		},
	})

	var keepLocal bool
	resolve := &cobra.Command{
		Use:   "resolve <resource> <id>",
		Short: "Resolve a conflict",
		Long: `Resolve a conflict. By default the server copy wins and the queued
edits for the record are dropped. With --keep-local the queued edits are
replaced by a single action re-applying the latest local edit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := parseResourceTypes(args[:1])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app, p *printer) error {
				action, err := a.engine.Resolve(cmd.Context(), types[0], args[1], keepLocal)
				if err != nil && action == nil {
					return err
				}
				if action == nil {
					fmt.Fprintf(p.w, "%s %s/%s: server copy will win on the next sync\n", green("✓"), types[0], args[1])
					return nil
				}
				fmt.Fprintf(p.w, "%s %s/%s: local edit kept\n", green("✓"), types[0], args[1])
				queuedNote(p.w, *action)
				return err
			})
		},
	}
	resolve.Flags().BoolVar(&keepLocal, "keep-local", false, "keep the local edit instead of the server copy")
	cmd.AddCommand(resolve)
	return cmd
}
