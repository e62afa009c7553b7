package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/hotspot"
	"github.com/getsentry/calltrace/internal/profile"
)

var topFormats = []OutputFormat{FormatTable, FormatJSON}

func newTopCmd() *cobra.Command {
	var (
		thread string
		sortBy string
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "top <profile>",
		Short: "List the methods taking the most time",
		Long: `List methods with their calls summed over every call site and thread.
Sort by own, total, invocations or p90 (own time per call), ascending unless
prefixed with "-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ValidateFormat(format, topFormats); err != nil {
				return err
			}
			key, descending, err := hotspot.ParseSort(sortBy)
			if err != nil {
				return err
			}
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			sessions := c.Sessions
			if thread != "" {
				s, err := c.Session(thread)
				if err != nil {
					return err
				}
				sessions = []*profile.Session{s}
			}
			methods, err := hotspot.FromSessions(c.Registry, sessions)
			if err != nil {
				return err
			}
			hotspot.Sort(methods, key, descending)
			if limit > 0 && len(methods) > limit {
				methods = methods[:limit]
			}
			if OutputFormat(format) == FormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(methods)
			}
			return writeMethodTable(cmd.OutOrStdout(), methods)
		},
	}
	cmd.Flags().StringVarP(&thread, "thread", "t", "", "Only count this thread")
	cmd.Flags().StringVarP(&sortBy, "sort", "s", "-own", "Sort key")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of methods to list, 0 for all")
	AddFormatFlag(cmd, &format, FormatTable, topFormats)
	return cmd
}

func writeMethodTable(out io.Writer, methods []hotspot.Method) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "METHOD\tINVOCATIONS\tOWN\tTOTAL\tP50/CALL\tP90/CALL\tTHREADS")
	for _, m := range methods {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
			m.Name,
			m.Invocations,
			profile.FormatMillis(m.OwnTimeMs),
			profile.FormatMillis(m.TotalTimeMs),
			profile.FormatMillis(m.OwnTimePerCallMs.P50),
			profile.FormatMillis(m.OwnTimePerCallMs.P90),
			m.Threads,
		)
	}
	return w.Flush()
}
