package cli

import (
	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/profile"
)

func newPrintCmd() *cobra.Command {
	var thread string

	cmd := &cobra.Command{
		Use:   "print <profile>",
		Short: "Print the call trees of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			for _, s := range sessions {
				if err := profile.Print(cmd.OutOrStdout(), c.Registry, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&thread, "thread", "t", "", "Only print this thread")
	return cmd
}
