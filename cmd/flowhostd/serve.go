package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/flowhost/internal/bootstrap"
	"github.com/oriys/flowhost/internal/errs"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/logging"
	"github.com/oriys/flowhost/internal/metrics"
	"github.com/oriys/flowhost/internal/network"
	"github.com/oriys/flowhost/internal/observability"
)

// serveCmd runs the daemon: load config, build every provider a manifest's
// schematics reference, validate and register every schematic, then block
// until a shutdown signal arrives, optionally exposing metrics and health
// checks over a management HTTP address.
func serveCmd() *cobra.Command {
	var (
		manifestDir string
		logLevel    string
		httpAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the flowhost network daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("manifests") {
				cfg.Network.ManifestDir = manifestDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}
			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			log := logging.Op()

			ctx := context.Background()
			if err := observability.Init(ctx, cfg.Observability.Tracing); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			manifest, err := loadManifestDir(cfg.Network.ManifestDir)
			if err != nil {
				return err
			}

			registered, err := bootstrap.BuildRegistry(ctx, cfg, manifest)
			if err != nil {
				return errs.NewProvider(errs.CodeUninitialized, err.Error())
			}
			defer registered.Close()

			signer := invocation.NewHMACSigner([]byte(cfg.Signing.Secret))
			net := network.New(registered.Registry, signer, cfg.Signing.Issuer, txConfig(cfg), breakerRegistry())

			if err := net.LoadManifest(manifest); err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			log.Info("schematics registered", "count", len(net.ListSchematics()), "names", net.ListSchematics())

			var httpServer *http.Server
			if httpAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					w.Write([]byte("ok"))
				})
				httpServer = &http.Server{Addr: httpAddr, Handler: observability.HTTPMiddleware(mux)}
				go func() {
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error("management HTTP server failed", "error", err)
					}
				}()
				log.Info("management HTTP server started", "addr", httpAddr)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			log.Info("shutdown signal received")

			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestDir, "manifests", "", "Directory of schematic manifest YAML files (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Management HTTP address for /metrics and /healthz (disabled if empty)")

	return cmd
}
