package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/config"
	"github.com/woxQAQ/jsbridge/internal/demo"
	"github.com/woxQAQ/jsbridge/internal/host"
	"github.com/woxQAQ/jsbridge/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	bindings := flag.String("bindings", "", "Comma-separated binding directories; overrides the config file")
	transportKind := flag.String("transport", "", "Transport (pipe, websocket, longpoll, guest); overrides the config file")
	guestModule := flag.String("guest", "", "Compiled script side for the guest transport")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *bindings != "" {
		cfg.BindingPaths = strings.Split(*bindings, ",")
	}
	if *transportKind != "" {
		cfg.IPC.Transport = *transportKind
	}
	if *guestModule != "" {
		cfg.Guest.Module = *guestModule
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	zc := zap.NewProductionConfig()
	if cfg.LogLevel == "debug" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	logger, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting jsbridge",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("transport", cfg.IPC.Transport),
	)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("jsbridge failed", zap.Error(err))
	}

	logger.Info("jsbridge shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	table, err := binding.NewLoader(logger).LoadAll(binding.NewRegistry(logger), cfg.BindingPaths)
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	fns, err := demo.Bind(table)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		serveMetrics(gctx, g, cfg.MetricsPort, reg, logger)
	}

	g.Go(func() error {
		session, err := host.New(gctx, cfg, table, logger, m)
		if err != nil {
			return err
		}
		rep, err := demo.Run(session.Runtime, fns, logger)
		if cerr := session.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		logger.Info("Workload complete",
			zap.Uint32("sum", rep.Sum),
			zap.String("described", rep.Described),
			zap.Uint32("nested", rep.Nested),
			zap.Uint32s("visited", rep.Visited),
		)
		if cfg.MetricsEnabled {
			logger.Info("Serving metrics until interrupted", zap.Int("port", cfg.MetricsPort))
			<-gctx.Done()
		}
		return nil
	})

	return g.Wait()
}

func serveMetrics(ctx context.Context, g *errgroup.Group, port int, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
