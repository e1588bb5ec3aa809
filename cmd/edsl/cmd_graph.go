package main

import (
	"github.com/spf13/cobra"

	"github.com/expectedparrot/edsl-sub003/pkg/terminal"
)

func newGraphCmd(_ *globalOpts) *cobra.Command {
	var (
		surveyOnly bool
		edges      bool
	)

	cmd := &cobra.Command{
		Use:   "graph <job.yaml>",
		Short: "Print the question dependency waves",
		Long: `Print the questions grouped into waves. Every question in a wave can be
asked concurrently once the previous waves are answered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiled, _, err := loadInput(args[0], surveyOnly)
			if err != nil {
				return withExitCode(err, exitConfig)
			}
			out := terminal.NewWithOutput(cmd.OutOrStdout())
			out.Waves(waveNames(compiled))
			if edges {
				out.Println("%s", compiled.Graph.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&surveyOnly, "survey", false, "treat the argument as a survey file")
	cmd.Flags().BoolVar(&edges, "edges", false, "also print every dependency edge")
	return cmd
}
