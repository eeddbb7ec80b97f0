package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/internal/util"
)

var (
	getParallel int
	getPNGDir   string
)

var getCmd = &cobra.Command{
	Use:   "get KEY=LOCATOR...",
	Short: "Resolve artifacts through the cache tiers",
	Long: `Resolve one or more artifacts and print one JSON line per artifact.

An argument without "=" is used as both key and locator.

Examples:
  # Fetch two images
  tiercache get logo=https://example.com/logo.png https://example.com/a.png

  # Also write the decoded bitmaps as PNG files
  tiercache get --png ./out logo=https://example.com/logo.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().IntVarP(&getParallel, "parallel", "p", 4, "lookups running at once")
	getCmd.Flags().StringVar(&getPNGDir, "png", "", "write bitmap artifacts as PNG files into this directory")
}

func parseRequest(arg string) tiercache.Request {
	if key, loc, ok := strings.Cut(arg, "="); ok && key != "" {
		return tiercache.Request{Key: key, Locator: loc}
	}
	return tiercache.Request{Key: arg, Locator: arg}
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := stderrLogging(cfg.Logging)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	exec := tiercache.NewLimitExecutor(getParallel)
	a, err := newApp(ctx, cfg, lg, appOptions{Executor: exec})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	results, err := resolve(ctx, a.svc, exec, args)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	missing := 0
	for _, r := range results {
		if !r.Found {
			missing++
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	if getPNGDir != "" {
		if err := writePNGs(ctx, a.svc, args, getPNGDir); err != nil {
			return err
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d artifacts not available", missing, len(results))
	}
	return nil
}

// resolve loads every argument through svc and returns the results in
// argument order.
func resolve(ctx context.Context, svc service, exec *tiercache.LimitExecutor, args []string) ([]result, error) {
	var (
		mu      sync.Mutex
		results = make([]result, len(args))
	)
	for i, arg := range args {
		req := parseRequest(arg)
		if req.Locator == "" {
			return nil, fmt.Errorf("argument %q: empty locator", arg)
		}
		svc.load(ctx, req, func(r result) {
			mu.Lock()
			results[i] = r
			mu.Unlock()
		})
	}
	exec.Wait()
	for i, arg := range args {
		if results[i].Key == "" {
			// delivery skipped because ctx ended
			results[i] = result{Key: parseRequest(arg).Key}
		}
	}
	return results, ctx.Err()
}

func writePNGs(ctx context.Context, svc service, args []string, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, arg := range args {
		req := parseRequest(arg)
		f, err := os.Create(filepath.Join(dir, util.FileKey(req.Key)+".png"))
		if err != nil {
			return err
		}
		err = svc.writePNG(ctx, req, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(f.Name())
			return fmt.Errorf("%s: %w", req.Key, err)
		}
	}
	return nil
}
