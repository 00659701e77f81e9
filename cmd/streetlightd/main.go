// Streetlight fleet service
// Dispatches pole commands, ingests telemetry and tracks maintenance
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/engine"
)

var version = "0.1.0"

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "streetlightd",
		Short: "Streetlight fleet service",
		Long:  "Fleet command and telemetry service for roadway lighting. Dispatches ON/OFF commands over the message bus, stores pole telemetry and tracks maintenance tickets.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the fleet service",
		RunE:  runService,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE:  printConfig,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("streetlightd v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/streetlight/streetlightd.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	engineCfg, err := cfg.engineConfig(logger)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting streetlightd", "version", version, "database", engineCfg.DatabasePath,
		"transport", engineCfg.Bus.Transport)
	if err := eng.Start(ctx); err != nil {
		eng.Stop()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := eng.Stop(); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Bus.Password != "" {
		cfg.Bus.Password = "********"
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
