package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/redliner"
	httpAdapter "github.com/aretw0/redliner/pkg/adapters/http"
	"github.com/aretw0/redliner/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP review server",
	Long: `Starts the review API over HTTP. Uploads are reviewed in the background by a
bounded worker pool; progress is available as Server-Sent Events and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		streams := httpAdapter.NewStreamManager(logger)

		engine, err := redliner.New(cfg,
			redliner.WithLogger(logger),
			redliner.WithHooks(
				observability.NewSlog(logger),
				observability.NewPrometheus(reg),
				observability.NewTracing(otel.Tracer("github.com/aretw0/redliner")),
				streams,
			),
		)
		if err != nil {
			return fmt.Errorf("error initializing redliner: %w", err)
		}

		handler := httpAdapter.NewHandler(engine.Review(),
			httpAdapter.WithStreams(streams),
			httpAdapter.WithMetrics(reg),
			httpAdapter.WithMaxBody(cfg.MaxUploadBytes()+1<<20),
			httpAdapter.WithLogger(logger),
		)

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go engine.Sweeper().Run(ctx)

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting redliner server", "address", srv.Addr, "store", cfg.Store.Backend, "documents", cfg.Documents.Backend, "workers", cfg.Pipeline.Workers)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				engine.Close(context.Background())
				return fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
			logger.Info("Shutdown requested")
		}

		// Give outstanding requests and in-flight reviews a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "err", err)
			srv.Close()
		}
		if err := engine.Close(shutdownCtx); err != nil {
			logger.Warn("Reviews interrupted by shutdown", "err", err)
		}
		logger.Info("redliner server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.addr)")
}
