package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/expectedparrot/edsl-sub003/pkg/config"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
	"github.com/expectedparrot/edsl-sub003/pkg/terminal"
)

func newLogsCmd(global *globalOpts) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "logs [job-id]",
		Short: "Print the most recent events of a job log",
		Long: `Print the last events written by a job. Without a job id the most
recently modified job log is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			dir := filepath.Join(config.ResolveLogDir(cfg), "jobs")

			var path string
			if len(args) == 1 {
				path = filepath.Join(dir, args[0]+".jsonl")
			} else if path, err = latestLog(dir); err != nil {
				return err
			}

			events, err := logging.ReadRecentEvents(path, count)
			if err != nil {
				return err
			}
			out := terminal.NewWithOutput(cmd.OutOrStdout())
			out.Header(strings.TrimSuffix(filepath.Base(path), ".jsonl"))
			for _, e := range events {
				printEvent(out, e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "lines", "n", 20, "number of events to print (0 for all)")
	return cmd
}

func latestLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read job logs: %w", err)
	}
	var (
		latest  string
		modTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(modTime) {
			latest = entry.Name()
			modTime = info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no job logs in %s", dir)
	}
	return filepath.Join(dir, latest), nil
}

func printEvent(out *terminal.Writer, e logging.Event) {
	line := fmt.Sprintf("%s %-9s %-24s %s", e.Timestamp.Format("15:04:05.000"), e.Category, e.EventType, e.Message)
	if e.InterviewID != "" {
		line += " [" + e.InterviewID + "]"
	}
	switch e.Level {
	case logging.LevelError:
		out.Error("%s", line)
	case logging.LevelWarn:
		out.Warn("%s", line)
	default:
		out.Println("%s", line)
	}
}
