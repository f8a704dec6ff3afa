package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewSnapshotsCommand creates the snapshots command group.
func NewSnapshotsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage cache snapshots used for rollback",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				snaps := a.engine.Snapshots()
				return p.emit(snaps, func(w io.Writer) {
					if len(snaps) == 0 {
						fmt.Fprintln(w, "No snapshots")
						return
					}
					p.table("ID\tCREATED\tDESCRIPTION\tRESOURCES", func(tw io.Writer) {
						for _, s := range snaps {
							var types []string
							for _, rt := range s.Types() {
								types = append(types, string(rt))
							}
							fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, since(s.CreatedAt), s.Description, strings.Join(types, ","))
						}
					})
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create [description]",
		Short: "Snapshot the current cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := "manual snapshot"
			if len(args) == 1 {
				description = args[0]
			}
			return withApp(cmd, opts, func(a *app, p *printer) error {
				snap, err := a.engine.CreateSnapshot(description)
				if err != nil {
					return err
				}
				fmt.Fprintf(p.w, "%s snapshot %s created\n", green("✓"), snap.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore the cache from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				if err := a.engine.RestoreSnapshot(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(p.w, "%s cache restored from %s\n", green("✓"), args[0])
				return nil
			})
		},
	})
	return cmd
}
