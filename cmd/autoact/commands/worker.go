package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autoact/autoact"
	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/service/dao/sqlite"
)

func newWorkerCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job queue worker pool",
		Long: `Starts the worker pool that drains the durable job queue:
claiming jobs, executing approved decisions and advancing playbook runs.
Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			options := []autoact.Option{autoact.WithConfig(config)}
			if config.Database.Path != "" {
				store, err := sqlite.New(sqlite.Config{Path: config.Database.Path})
				if err != nil {
					return err
				}
				if err := store.Init(cmd.Context()); err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(cmd.Context()); err != nil {
					return err
				}
				options = append(options, autoact.WithStorage(store))
			}

			registry := prometheus.NewRegistry()
			options = append(options, autoact.WithMetrics(metrics.New(registry)))
			if config.Telemetry.TraceFile != "" {
				options = append(options,
					autoact.WithTracing(config.Telemetry.ServiceName, "", config.Telemetry.TraceFile))
			}

			svc, err := autoact.New(options...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := svc.Start(ctx); err != nil {
				return err
			}
			log.Info().Int("workers", config.Processor.Workers).Msg("worker pool started")

			var metricsServer *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("metrics server failed")
					}
				}()
				log.Info().Str("addr", metricsAddr).Msg("metrics endpoint started")
			}

			<-ctx.Done()
			log.Info().Msg("draining workers")
			svc.Shutdown()
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint (disabled when empty)")
	return cmd
}
