package main

import (
	"github.com/spf13/cobra"

	"github.com/expectedparrot/edsl-sub003/pkg/jobs"
	"github.com/expectedparrot/edsl-sub003/pkg/terminal"
)

func newValidateCmd(_ *globalOpts) *cobra.Command {
	var surveyOnly bool

	cmd := &cobra.Command{
		Use:   "validate <job.yaml>",
		Short: "Compile a job or survey and report configuration errors",
		Long: `Compile a job or survey without calling any model.

Checks question names, templates, rules, memory references and the
dependency graph. For a job file it also checks that every agent and
scenario provides the traits and fields the survey reads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiled, product, err := loadInput(args[0], surveyOnly)
			if err != nil {
				return withExitCode(err, exitConfig)
			}
			if !surveyOnly {
				if err := jobs.CheckRequiredFields(compiled, product); err != nil {
					return withExitCode(err, exitConfig)
				}
			}

			out := terminal.NewWithOutput(cmd.OutOrStdout())
			out.Success("%s is valid", args[0])
			out.Dim("%d questions, %d rules, %d dependency edges, %d waves",
				compiled.Len(), compiled.Rules.Len(), compiled.Graph.EdgeCount(), len(compiled.Graph.Waves()))
			if !surveyOnly {
				out.Dim("%d combinations", product.Len())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&surveyOnly, "survey", false, "treat the argument as a survey file")
	return cmd
}
