package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/apiclient"
)

type remoteFlags struct {
	host    string
	timeout time.Duration
	retries int
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "http://localhost:8080", "calltrace service URL")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "HTTP timeout")
	cmd.Flags().IntVar(&f.retries, "retries", 3, "Retries of failed requests")
}

func (f *remoteFlags) client() (*apiclient.Client, error) {
	return apiclient.NewClient(f.host, f.timeout, f.retries)
}

func newUploadCmd() *cobra.Command {
	var f remoteFlags

	cmd := &cobra.Command{
		Use:   "upload <profile>",
		Short: "Upload a profile to a calltrace service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			client, err := f.client()
			if err != nil {
				return err
			}
			id, err := client.Upload(cmd.Context(), c)
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		f      remoteFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "fetch <profile id>",
		Short: "Download a profile from a calltrace service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := f.client()
			if err != nil {
				return err
			}
			c, err := client.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeContainer(cmd, output, c)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "File to save the profile to, - for stdout")
	return cmd
}
