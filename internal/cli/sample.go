package cli

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/metadata"
	"github.com/getsentry/calltrace/internal/profile"
	"github.com/getsentry/calltrace/internal/sampleapp"
)

func newSampleCmd() *cobra.Command {
	var (
		cfg         = sampleapp.DefaultConfig()
		output      string
		description string
		noSleep     bool
		print       bool
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Profile the sample workload",
		Long: `Run the instrumented sample workload on several threads and save the
captured profile. Each run flips coins to pick its call paths, so two
captures are usually different enough to be worth a diff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if noSleep {
				cfg.Sleep = func(time.Duration) {}
			}
			p := profile.NewProfiler(profile.WithLogger(log.Logger))
			p.Start()
			if err := sampleapp.Run(ctx, p, cfg); err != nil {
				return err
			}
			if err := p.Stop(ctx); err != nil {
				return err
			}
			if description != "" {
				for _, s := range p.Store().Sessions() {
					if err := s.MergeMetadata(metadata.Map{metadata.DescriptionKey: description}); err != nil {
						return err
					}
				}
			}
			c := p.Snapshot()
			log.Info().
				Str("profile_id", c.ID).
				Int("threads", c.Len()).
				Msg("sample workload profiled")
			if print {
				for _, s := range c.Sessions {
					if err := profile.Print(cmd.OutOrStdout(), c.Registry, s); err != nil {
						return err
					}
				}
			}
			return writeContainer(cmd, output, c)
		},
	}

	cmd.Flags().IntVar(&cfg.Threads, "threads", cfg.Threads, "Number of threads running the workload")
	cmd.Flags().IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "Loop iterations per thread")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of the coin flips")
	cmd.Flags().StringVarP(&output, "output", "o", "profile.xml", "File to save the profile to, - for stdout")
	cmd.Flags().StringVar(&description, "description", "", "Description stored in the profile metadata")
	cmd.Flags().BoolVar(&noSleep, "no-sleep", false, "Skip the simulated work")
	cmd.Flags().BoolVar(&print, "print", false, "Print the call trees")
	return cmd
}
