package cli

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/pprofutil"
	"github.com/getsentry/calltrace/internal/profileio"
	"github.com/getsentry/calltrace/internal/speedscope"
)

var convertFormats = []OutputFormat{FormatXML, FormatJSON, FormatSpeedscope, FormatPprof}

func newConvertCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "convert <profile>",
		Short: "Convert a profile to another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ValidateFormat(format, convertFormats); err != nil {
				return err
			}
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, func(w io.Writer) error {
				switch OutputFormat(format) {
				case FormatXML:
					return profileio.WriteContainer(w, c)
				case FormatJSON:
					return profileio.WriteJSON(w, c)
				case FormatSpeedscope:
					o, err := speedscope.FromContainer(c)
					if err != nil {
						return err
					}
					return json.NewEncoder(w).Encode(o)
				case FormatPprof:
					return pprofutil.Write(w, c)
				}
				return fmt.Errorf("unsupported format %q", format)
			})
		},
	}
	AddFormatFlag(cmd, &format, FormatJSON, convertFormats)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "File to write, - for stdout")
	return cmd
}
