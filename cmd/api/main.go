// Command api serves the fund facts assistant over HTTP.
//
//	POST /api/ask     {"question": "..."} -> {answer, citation, refused, timestamp}
//	GET  /api/health
//
// Prometheus metrics are served on a separate port when one is configured.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mffacts/mffacts/engine/bootstrap"
	"github.com/mffacts/mffacts/pkg/config"
	"github.com/mffacts/mffacts/pkg/metrics"
	"github.com/mffacts/mffacts/pkg/natsutil"
)

func main() {
	configPath := flag.String("config", envOr("MFFACTS_CONFIG", "config.yaml"), "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger(os.Stdout, cfg.Log.Level, true)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	svc, err := app.QueryService(ctx)
	if err != nil {
		return err
	}

	nc, err := natsutil.Connect(cfg.NATS.URL, "mffacts-api", logger)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}

	reg := metrics.New()
	srv := newServer(svc, natsutil.NewEvents(nc, logger), newAPIMetrics(reg), logger)

	if nc != nil {
		sub, err := natsutil.Subscribe(nc, natsutil.SubjectIndexRebuilt, srv.onRebuild)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", natsutil.SubjectIndexRebuilt, err)
		}
		defer sub.Unsubscribe()
	}

	httpSrv := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Server.Port),
		Handler:      srv.routes(cfg.Server.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server starting", "port", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Server.MetricsPort != "" {
		g.Go(func() error {
			return reg.Serve(ctx, net.JoinHostPort("", cfg.Server.MetricsPort), logger)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})
	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
