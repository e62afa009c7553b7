package cli

import (
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/getsentry/calltrace/internal/flamegraph"
	"github.com/getsentry/calltrace/internal/profile"
)

type renderFlags struct {
	thread  string
	zoom    string
	width   int
	height  int
	output  string
	regions string
}

func (f *renderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.thread, "thread", "t", "", "Thread to render, the first one with calls by default")
	cmd.Flags().StringVar(&f.zoom, "zoom", "", "Path fingerprint (hex) of the call to zoom on")
	cmd.Flags().IntVar(&f.width, "width", 1200, "Image width in pixels")
	cmd.Flags().IntVar(&f.height, "height", 600, "Image height in pixels")
	cmd.Flags().StringVarP(&f.output, "output", "o", "flamegraph.png", "PNG file to write, - for stdout")
	cmd.Flags().StringVar(&f.regions, "regions", "", "Also write the laid out regions as JSON to this file")
}

func (f *renderFlags) render(cmd *cobra.Command, scheme flamegraph.ColorScheme, c, previous *profile.Container) error {
	zoom, err := parseFingerprint(f.zoom)
	if err != nil {
		return err
	}
	g, err := flamegraph.NewRenderer(scheme).RenderContainer(c, flamegraph.Request{
		Thread:   f.thread,
		Zoom:     zoom,
		Width:    f.width,
		Height:   f.height,
		Previous: previous,
	})
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, f.output, g.EncodePNG); err != nil {
		return err
	}
	if f.regions == "" {
		return nil
	}
	return writeOutput(cmd, f.regions, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(g.Regions)
	})
}

func newRenderCmd() *cobra.Command {
	var f renderFlags

	cmd := &cobra.Command{
		Use:   "render <profile>",
		Short: "Render a flame graph of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			return f.render(cmd, flamegraph.DefaultScheme, c, nil)
		},
	}
	f.register(cmd)
	return cmd
}

func newDiffCmd() *cobra.Command {
	var f renderFlags

	cmd := &cobra.Command{
		Use:   "diff <current> <previous>",
		Short: "Render a flame graph of a profile compared to a previous one",
		Long: `Render the current profile with a marker on the right edge of every
call showing how its share of the caller's time changed since the previous
profile: red when it grew, green when it shrank, gray when the previous
profile never made that call.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := readContainer(args[0])
			if err != nil {
				return err
			}
			previous, err := readContainer(args[1])
			if err != nil {
				return err
			}
			return f.render(cmd, flamegraph.CompareScheme, current, previous)
		},
	}
	f.register(cmd)
	return cmd
}
