package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"

	"github.com/relayfront/relayfront/internal/backend"
	"github.com/relayfront/relayfront/internal/config"
	"github.com/relayfront/relayfront/internal/health"
	"github.com/relayfront/relayfront/internal/listen"
	"github.com/relayfront/relayfront/internal/loadbalancer"
	"github.com/relayfront/relayfront/internal/logging"
	"github.com/relayfront/relayfront/internal/metrics"
	"github.com/relayfront/relayfront/internal/ratelimit"
	"github.com/relayfront/relayfront/internal/router"
	"github.com/relayfront/relayfront/internal/supervisor"
	"github.com/relayfront/relayfront/internal/tracker"
	"github.com/relayfront/relayfront/internal/upstream"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "relayfrontd",
		Short:         "relayfrontd is a configurable reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       versionString(),
		// Bare invocation with a --config flag behaves like `serve`,
		// matching the teacher's single-binary-single-mode CLI shape.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "relayfront.yaml", "path to the YAML configuration file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newValidateCommand(&configPath))
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			snap, errs := config.Validate(raw)
			if len(errs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				for _, rs := range snap.RouteStrings() {
					fmt.Fprintln(cmd.OutOrStdout(), rs)
				}
				return nil
			}
			for _, e := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), e)
			}
			return fmt.Errorf("%d validation error(s)", len(errs))
		},
	}
}

// runServe wires every collaborator into a live Dispatcher, starts
// health checking and the config watcher, and blocks until a shutdown
// signal is received, at which point it drains in-flight connections
// before returning.
func runServe(ctx context.Context, configPath string) error {
	logging.Configure(logging.Options{Level: "info"})

	backends := backend.NewRegistry()
	lb := loadbalancer.New()
	limiter := ratelimit.NewStore()
	defer limiter.Close()
	upstreamClient := upstream.New()
	conns := tracker.New()
	rec := metrics.NewPrometheus()

	dispatcher := router.New(backends, lb, limiter, upstreamClient, conns, rec)

	super := supervisor.New(configPath, dispatcher, backends, 30*time.Second)
	snap, err := super.LoadInitial()
	if err != nil {
		return fmt.Errorf("loading initial configuration: %w", err)
	}

	checker := health.New(health.Config{
		Enabled:       snap.HealthCheck.Enabled,
		Interval:      snap.HealthCheck.Interval,
		Timeout:       snap.HealthCheck.Timeout,
		DefaultPath:   snap.HealthCheck.DefaultPath,
		PathOverrides: snap.HealthCheck.PathOverrides,
		Thresholds:    snap.HealthCheck.Thresholds,
	}, backends)
	if snap.HealthCheck.Enabled {
		checker.Start(ctx)
		defer checker.Stop()
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := super.WatchConfig(watchCtx); err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	mux.Handle("/", dispatcher)

	bundle, err := listen.Build(ctx, snap, mux)
	if err != nil {
		return fmt.Errorf("building listener: %w", err)
	}
	defer bundle.Close()

	srv := &http.Server{Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(bundle.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	if bundle.H3 != nil {
		go func() {
			if err := bundle.ServeHTTP3(); err != nil {
				log.WithError(err).Warn("HTTP/3 listener stopped")
			}
		}()
	}

	select {
	case err := <-serveErr:
		return err
	case sig := <-runUntilSignal(super, ctx):
		if sig == nil {
			return nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	super.Shutdown(conns)
	return nil
}

func runUntilSignal(super *supervisor.Supervisor, ctx context.Context) <-chan os.Signal {
	out := make(chan os.Signal, 1)
	go func() {
		out <- super.Run(ctx)
	}()
	return out
}
