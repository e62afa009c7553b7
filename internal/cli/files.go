package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/profileio"
)

type OutputFormat string

const (
	FormatXML        OutputFormat = "xml"
	FormatJSON       OutputFormat = "json"
	FormatSpeedscope OutputFormat = "speedscope"
	FormatPprof      OutputFormat = "pprof"
	FormatTable      OutputFormat = "table"
)

// readContainer loads a profile file, in its JSON form when the name ends
// with .json.
func readContainer(path string) (*profile.Container, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return profileio.ReadJSON(f)
	}
	return profileio.ReadFile(path)
}

// writeContainer saves c as XML, or JSON when the name ends with .json.
func writeContainer(cmd *cobra.Command, path string, c *profile.Container) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return writeOutput(cmd, path, func(w io.Writer) error {
			return profileio.WriteJSON(w, c)
		})
	}
	if path == "" || path == "-" {
		return profileio.WriteContainer(cmd.OutOrStdout(), c)
	}
	return profileio.WriteFile(path, c.Registry, c.Sessions)
}

// writeOutput runs write against path, or the command's output when path is
// empty or "-".
func writeOutput(cmd *cobra.Command, path string, write func(w io.Writer) error) error {
	if path == "" || path == "-" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func parseFingerprint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	fp, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid zoom fingerprint %q: %w", s, err)
	}
	return fp, nil
}

// AddFormatFlag adds a standard --format/-f flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}
	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "f", string(defaultFormat), description)
	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}
	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}
