package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oats-center/avena/pkg/agent"
	"github.com/oats-center/avena/pkg/jwtauth"
	"github.com/oats-center/avena/pkg/log"
	"github.com/oats-center/avena/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device agent: join the mesh, announce, and reconcile workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		natsURL, _ := cmd.Flags().GetString("nats-url")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		logger := log.WithComponent("avenad")

		natsCfgDir := filepath.Join(configDir, "nats")
		if err := os.MkdirAll(natsCfgDir, 0o755); err != nil {
			return fmt.Errorf("create nats config dir: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		bootstrap, err := jwtauth.SetupOperatorMode(natsCfgDir)
		if err != nil {
			return fmt.Errorf("bootstrap credential chain: %w", err)
		}

		cfg := agent.Config{
			NatsURL:         natsURL,
			NatsCfgDir:      natsCfgDir,
			ConfigDir:       configDir,
			SystemdDir:      filepath.Join(configDir, "containers", "systemd"),
			DataDir:         dataDir,
			AvenaAdminCreds: filepath.Join(natsCfgDir, "avena-admin.creds"),
			SysAdminCreds:   filepath.Join(natsCfgDir, "sys-admin.creds"),
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := agent.Start(ctx, cfg, bootstrap.AvenaAccountKP, bootstrap.Manager)
		if err != nil {
			return fmt.Errorf("start agent: %w", err)
		}

		if metricsAddr != "" {
			http.Handle("/metrics", metrics.Handler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					logger.Error().Err(err).Msg("metrics server exited")
				}
			}()
			logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		a.Stop()
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":9090", "Address to serve Prometheus metrics on (empty to disable)")
}
