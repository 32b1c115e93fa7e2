// Command gel2mdt runs the case management server, its background jobs and
// the supporting maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gel2mdt-server/internal/config"
	"github.com/gel2mdt-server/internal/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gel2mdt",
		Short:         "Genomics England case management for multi-disciplinary team meetings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (defaults to ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		updateCasesCmd(),
		pullT3Cmd(),
		scheduleCmd(),
		exportCmd(),
		mcpCmd(),
		setupCmd(),
	)
	return rootCmd
}

// loadConfig reads and validates configuration using the --config flag
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	path, _ := cmd.Flags().GetString("config")
	manager, err := config.NewManagerFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return manager, nil
}

// newLogger builds the process logger. Output goes to stderr so the MCP
// stdio transport keeps stdout to itself.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func parseSampleTypes(values []string) ([]domain.SampleType, error) {
	if len(values) == 0 {
		return []domain.SampleType{domain.RareDisease, domain.Cancer}, nil
	}
	out := make([]domain.SampleType, 0, len(values))
	for _, v := range values {
		st, err := domain.ParseSampleType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
