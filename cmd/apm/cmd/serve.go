package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apm-labs/apm/internal/config"
	"github.com/apm-labs/apm/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation API server",
	Long: `Start the HTTP API server with the full evaluation stack: consent
gate, critic orchestrator, decision engine, run reaper, and webhook
dispatcher.

Decision bands and sampling settings reload live when the config file
changes; store and transport settings require a restart.

Examples:
  # Start with defaults (localhost:8484)
  apm serve

  # Start on a custom host and port
  apm serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	svc, err := service.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if file := viper.ConfigFileUsed(); file != "" {
		watcher := config.NewWatcher(file, logger.Logger)
		watcher.OnReload(svc.ApplyConfig)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("starting apm server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", cfg.Store.Path,
	)

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
