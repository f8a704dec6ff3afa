package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(cmd *cobra.Command, opts *RootOptions) *printer {
	return &printer{w: cmd.OutOrStdout(), json: opts.Format == "json"}
}

// emit writes v as JSON in json mode and calls text otherwise.
func (p *printer) emit(v interface{}, text func(w io.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(p.w)
	return nil
}

func (p *printer) table(header string, rows func(w io.Writer)) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	tw.Flush()
}

func onOff(online bool) string {
	if online {
		return green("online")
	}
	return red("offline")
}

func okFail(success bool) string {
	if success {
		return green("ok")
	}
	return red("failed")
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
