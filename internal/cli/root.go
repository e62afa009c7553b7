package cli

import (
	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/logutil"
)

var release = "dev"

// NewRootCmd returns the calltracectl command tree.
func NewRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "calltracectl",
		Short: "Capture, inspect and compare call profiles",
		Long: `calltracectl works with call profiles: per-thread trees of method
invocations with their counts and inclusive times.

Profiles are read and written in the XML profiling results format, or in
its JSON form when the file name ends with .json.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.ConfigureLogger(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newSampleCmd())
	rootCmd.AddCommand(newPrintCmd())
	rootCmd.AddCommand(newTopCmd())
	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newDiffCmd())
	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("calltracectl version %s\n", release)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
