package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/origin"
)

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete downloaded files older than the retention",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "age threshold (default download.retention)")
}

var errNoFetch = errors.New("sweep does not fetch")

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := stderrLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = lg.sync() }()

	olderThan := sweepOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Download.Retention
	}
	dcfg := cfg.Download
	dcfg.Retention = 0 // no background sweeper for a one-shot run
	dl, err := newDownloads(dcfg, origin.Func(func(context.Context, string, io.Writer) error {
		return errNoFetch
	}), lg.log)
	if err != nil {
		return err
	}
	defer dl.Close()

	n, err := dl.Sweep(olderThan)
	if err != nil {
		return err
	}
	lg.log.Info("sweep done", logger.Fields{"removed": n, "older_than": olderThan.String()})
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d files\n", n)
	return nil
}
