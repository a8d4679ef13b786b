// Command distvec runs distributed vector and matrix
// computations on a pool of workers.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/unixpickle/distvec/config"
	"github.com/unixpickle/distvec/coord"
	"github.com/unixpickle/distvec/transport"
	"github.com/unixpickle/distvec/worker"
	"go.uber.org/zap"
)

var (
	configPath string
	numWorkers int
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "distvec",
	Short:        "Distributed vector and matrix computations",
	SilenceUsage: true,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve a worker over standard input and output",
	Long: "Serve a worker over standard input and output.\n\n" +
		"This is the entry point for process workers, and is not meant to be run by hand.",
	Args: cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := cfg.Logger()
		if err != nil {
			return err
		}
		defer logger.Sync()
		return worker.Serve(transport.Stdio(), logger)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a YAML pool configuration")
	flags.IntVar(&numWorkers, "workers", 0, "number of workers (overrides the configuration)")
	flags.StringVar(&logLevel, "log-level", "", "log level (overrides the configuration)")

	rootCmd.AddCommand(workerCmd, benchCmd, dotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if numWorkers != 0 {
		cfg.Workers = numWorkers
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

// newPool starts the pool described by cfg.
func newPool(cfg *config.Config, logger *zap.Logger) (*coord.Coordinator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := coord.New(ctx, coord.Config{
		Workers: cfg.Workers,
		Spawner: cfg.NewSpawner(worker.Entry(logger)),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("start %d %s workers: %w", cfg.Workers, cfg.Transport, err)
	}
	return pool, nil
}
