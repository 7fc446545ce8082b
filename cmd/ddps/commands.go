package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/maruel/minum/internal/database"
	"github.com/spf13/cobra"
)

// errCorrupt makes check exit with a failure status.
var errCorrupt = errors.New("collection has corrupt files")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ddps",
		Short: "inspect minum collection directories",
		Long: `ddps reads a collection directory, one ` + database.FileSuffix + ` file per record
plus the index counter, and reports what a server would load from it.`,
		SilenceUsage: true,
	}
	root.AddCommand(newLsCmd(), newCheckCmd(), newCounterCmd())
	return root
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [dir]",
		Short: "Lists the record files and the persisted counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := database.Inspect(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printCounter(out, rep)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "INDEX\tFILE\tSIZE\tSTATUS")
			for _, f := range rep.Files {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", f.Index, f.Name, f.Size, f.Status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, name := range rep.Ignored {
				_, _ = fmt.Fprintf(out, "ignored: %s\n", name)
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [dir]",
		Short: "Validates every record file and the counter",
		Long: `Validates every record file and the counter.

Exits with a failure status when a record file can't be decoded or the counter
file is unreadable. Empty record files are reported but are not an error since
the server skips them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := database.Inspect(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var maxIndex int64
			for _, f := range rep.Files {
				maxIndex = max(maxIndex, f.Index)
				switch f.Status {
				case database.FileEmpty:
					_, _ = fmt.Fprintf(out, "%s: empty, skipped on load\n", f.Name)
				case database.FileCorrupt:
					_, _ = fmt.Fprintf(out, "%s: corrupt: %v\n", f.Name, f.Err)
				}
			}
			if rep.CounterErr != nil {
				_, _ = fmt.Fprintf(out, "counter: %v\n", rep.CounterErr)
			} else if maxIndex >= rep.NextIndex {
				_, _ = fmt.Fprintf(out, "counter: %d is behind index %d, it will be raised on load\n", rep.NextIndex, maxIndex)
			}
			_, _ = fmt.Fprintf(out, "%d files, %d corrupt\n", len(rep.Files), rep.Corrupt())
			if rep.Corrupt() != 0 || rep.CounterErr != nil {
				return errCorrupt
			}
			return nil
		},
	}
}

func newCounterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counter [dir]",
		Short: "Prints the index the next record will receive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := database.Inspect(args[0])
			if err != nil {
				return err
			}
			if rep.CounterErr != nil {
				return rep.CounterErr
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), rep.NextIndex)
			return nil
		},
	}
}

func printCounter(out io.Writer, rep *database.Report) {
	if rep.CounterErr != nil {
		_, _ = fmt.Fprintf(out, "next index: unreadable: %v\n", rep.CounterErr)
		return
	}
	_, _ = fmt.Fprintf(out, "next index: %d\n", rep.NextIndex)
}
