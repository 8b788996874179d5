package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/fnworker/internal/api"
	"github.com/seantiz/fnworker/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on FNWORKER_LISTEN_ADDR.

Requests that omit the engine endpoint, network or isolation mode get the
values from FNWORKER_DOCKER_HOST, FNWORKER_NETWORK and FNWORKER_ROOTLESS.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides FNWORKER_LISTEN_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	logger.Info("fnworker: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"docker_host", cfg.DockerHost,
		"network", cfg.Network,
		"rootless", cfg.Rootless,
	)

	svc, err := newServices(cfg, cfg.DBPath, logger)
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg.ListenAddr, svc.store, svc.registry, svc.bridge, api.Defaults{
		Endpoint: cfg.DockerHost,
		Network:  cfg.Network,
		Rootless: cfg.Rootless,
	}, logger)

	runErr := srv.Run(cmd.Context())
	if err := svc.close(context.Background()); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return runErr
}
