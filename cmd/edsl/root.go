package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/expectedparrot/edsl-sub003/pkg/config"
)

// Build metadata, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// globalOpts holds flags shared by every subcommand.
type globalOpts struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	rootCmd := &cobra.Command{
		Use:   "edsl",
		Short: "Run surveys against language models",
		Long: `edsl administers a survey to every combination of agents, scenarios,
models and repetitions, and writes one result record per combination.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.edsl/config.yaml then ./.edsl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newGraphCmd(opts),
		newLogsCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with args.
func Execute(stdout, stderr io.Writer, args []string) error {
	rootCmd := newRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func (o *globalOpts) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("edsl %s (%s)\n", version, commit)
		},
	}
}
