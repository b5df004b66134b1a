package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	var file string

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the harness log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := getConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Logger().LogFile
			}
			if path == "" {
				return errors.New("no log file configured (logger.log_file)")
			}
			return tailLog(cmd.Context(), cmd.OutOrStdout(), path, follow)
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing lines as they are appended")
	logsCmd.Flags().StringVar(&file, "file", "", "log file to read (default logger.log_file)")
	return logsCmd
}

// tailLog copies path to w line by line. With follow it survives rotation
// and returns only when ctx is done.
func tailLog(ctx context.Context, w io.Writer, path string, follow bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file %s: %w", path, err)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read log file %s: %w", path, line.Err)
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
