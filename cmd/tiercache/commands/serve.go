package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tiercache/logger"
	tcprom "github.com/unkn0wn-root/tiercache/metrics/prometheus"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve artifacts, stats and metrics over HTTP",
	Long: `Start an HTTP server in front of the cache.

Routes:
  GET    /artifacts/{key}?locator=URL[&format=png]
  DELETE /artifacts/{key}
  GET    /stats
  GET    /metrics
  GET    /health`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default metrics.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := stderrLogging(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, lg, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(cctx); err != nil {
			lg.log.Error("close failed", logger.Fields{"err": err})
		}
	}()

	reg, err := newRegistry(a)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	lg.log.Info("serving", logger.Fields{"addr": addr})

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	lg.log.Info("shutdown signal received", nil)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newRegistry(a *app) (*prom.Registry, error) {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c := tcprom.NewCollector()
	c.AddCache(a.svc.kind(), a.svc.stats)
	c.SetDownloads(a.dl.Stats)
	if _, err := c.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
