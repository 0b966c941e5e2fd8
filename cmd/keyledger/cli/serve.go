package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openkey-lms/keyledger/internal/db"
	"github.com/openkey-lms/keyledger/internal/healthrpc"
	"github.com/openkey-lms/keyledger/internal/httpapi"
	"github.com/openkey-lms/keyledger/internal/keyledger/metrics"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
	"github.com/openkey-lms/keyledger/internal/logger"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		seedDev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger HTTP API and gRPC health service",
		Long:  "Open the ledger database and serve the HTTP API, Prometheus metrics and the gRPC health service until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("http-addr") {
				opts.cfg.HTTPAddr = httpAddr
			}
			if flags.Changed("grpc-addr") {
				opts.cfg.GRPCAddr = grpcAddr
			}
			if flags.Changed("seed-dev") {
				opts.cfg.SeedDev = seedDev
				opts.cfg = opts.cfg.Normalize()
			}
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default $KEYLEDGER_HTTP_ADDR or :8080)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (default $KEYLEDGER_GRPC_ADDR or :9090)")
	cmd.Flags().BoolVar(&seedDev, "seed-dev", false, "Insert the demo room registry on start (dev only)")

	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	log := logger.New(cfg.Env, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := opts.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	log.Info("ledger db ready", "path", cfg.DBPath, "env", cfg.Env)

	if cfg.SeedDev {
		if err := db.SeedDev(ctx, l.conn, db.SeedDevOptions{}); err != nil {
			return err
		}
		log.Info("seeded dev rooms")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ledger := service.NewLedger(l.store, service.Options{Logger: log, Metrics: m})
	reports := service.NewReports(l.store, ledger.Now)

	sampler := service.NewActiveSampler(ledger, m, service.SamplerConfig{
		IntervalSeconds: cfg.SampleIntervalSeconds,
	}, log)
	sampler.Start(ctx)
	defer sampler.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:             log,
		Addr:               cfg.HTTPAddr,
		Ledger:             ledger,
		Reports:            reports,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSOrigins:        cfg.CORSOrigins,
	})

	health, err := healthrpc.New(healthrpc.Config{
		Addr: cfg.GRPCAddr,
		Probe: func(ctx context.Context) error {
			_, err := l.store.LastModified(ctx, store.WatermarkLog)
			return err
		},
		Interval: time.Duration(cfg.HealthProbeSeconds) * time.Second,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return health.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
