package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// output writes tables for humans and JSON for pipes, unless --json forces it.
type output struct {
	w    io.Writer
	errW io.Writer
	json bool
}

func newOutput(cmd *cobra.Command) output {
	asJSON, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	if f, ok := w.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		asJSON = true
	}
	return output{w: w, errW: cmd.ErrOrStderr(), json: asJSON}
}

func (o output) encode(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o output) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	for i, h := range header {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell)
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}

func (o output) note(msg string) {
	fmt.Fprintln(o.errW, msg)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Force JSON output")
}
