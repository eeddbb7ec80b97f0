package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsAddr string
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counters of a running serve instance",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsAddr, "addr", "http://localhost:9090", "address of tiercache serve")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw JSON response")
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	st, raw, err := fetchStats(ctx, http.DefaultClient, statsAddr)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if statsJSON {
		_, err := out.Write(raw)
		return err
	}
	return printStats(out, st)
}

func fetchStats(ctx context.Context, client *http.Client, addr string) (statsResponse, []byte, error) {
	var st statsResponse
	url := strings.TrimRight(addr, "/") + "/stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return st, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return st, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return st, nil, fmt.Errorf("stats: %s: %s", url, resp.Status)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, nil, fmt.Errorf("stats: decode: %w", err)
	}
	return st, raw, nil
}

func printStats(w io.Writer, st statsResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	c, d := st.Cache, st.Downloads
	rows := [][2]string{
		{"kind", st.Kind},
		{"from memory", fmt.Sprint(c.FromMemory)},
		{"from disk", fmt.Sprint(c.FromDisk)},
		{"from network", fmt.Sprint(c.FromNetwork)},
		{"cancelled", fmt.Sprint(c.Cancelled)},
		{"misses", fmt.Sprint(c.Misses)},
		{"strong entries", fmt.Sprintf("%d (%d bytes)", c.Memory.StrongLen, c.Memory.StrongBytes)},
		{"weak entries", fmt.Sprintf("%d (%d bytes)", c.Memory.WeakLen, c.Memory.WeakBytes)},
		{"idle buffers", fmt.Sprint(c.Pool.Idle)},
		{"downloads", fmt.Sprintf("%d fetched, %d failed, %d retried", d.Fetches, d.Failures, d.Retries)},
		{"in flight", fmt.Sprint(d.InFlight)},
		{"workers", fmt.Sprintf("%d (%s)", d.Executor.Workers, d.Executor.Level)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	return tw.Flush()
}
