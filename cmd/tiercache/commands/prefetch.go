package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tiercache/download"
	"github.com/unkn0wn-root/tiercache/logger"
)

var prefetchWait time.Duration

var prefetchCmd = &cobra.Command{
	Use:   "prefetch LOCATOR...",
	Short: "Download artifacts at low priority without decoding them",
	Long: `Queue low-priority downloads and wait for them to settle.

Locators already on disk are skipped. Prefetched files are picked up by
later get or serve runs without another transfer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrefetch,
}

func init() {
	prefetchCmd.Flags().DurationVar(&prefetchWait, "wait", 5*time.Minute, "give up waiting after this long")
}

func runPrefetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := stderrLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = lg.sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), prefetchWait)
	defer cancel()

	f, err := newFetcher(ctx, cfg.Origin)
	if err != nil {
		return err
	}
	dl, err := newDownloads(cfg.Download, f, lg.log)
	if err != nil {
		return err
	}
	defer dl.Close()

	queued := prefetch(dl, args)
	if err := settle(ctx, dl, 100*time.Millisecond); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}
	st := dl.Stats()
	lg.log.Info("prefetch done", logger.Fields{"queued": queued, "fetches": st.Fetches, "failures": st.Failures})
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d, skipped %d, failed %d\n", queued, len(args)-queued, st.Failures)
	if st.Failures > 0 {
		return fmt.Errorf("%d downloads failed", st.Failures)
	}
	return nil
}

func prefetch(dl *download.Controller, locators []string) int {
	n := 0
	for _, loc := range locators {
		if dl.Prefetch(loc) {
			n++
		}
	}
	return n
}

// settle waits until dl has no locator in flight.
func settle(ctx context.Context, dl *download.Controller, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for dl.Stats().InFlight > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
