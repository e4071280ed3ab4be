// Command etl runs one batch of the registry data-quality and anomaly
// pipeline over an input extract file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"propsafe/internal/config"
	"propsafe/internal/infrastructure"
	"propsafe/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "etl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile = flag.String("config", "", "path to YAML config file (optional)")
		inputFile  = flag.String("input", "", "path to the registry extract (csv or xlsx)")
		outputDir  = flag.String("out", "", "output directory for partitions and reports")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *inputFile != "" {
		cfg.Paths.InputFile = *inputFile
	}
	if *outputDir != "" {
		cfg.Paths.OutputDir = *outputDir
	}
	if cfg.Paths.InputFile == "" {
		return fmt.Errorf("no input file: pass -input or set PROPSAFE_PATHS_INPUT_FILE")
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifest, err := pipeline.New(cfg, logger).Run(ctx)
	if err != nil {
		if manifest != nil {
			logger.Error("run aborted", slog.String("run_id", manifest.RunID))
		}
		return err
	}

	logger.Info("run finished",
		slog.String("run_id", manifest.RunID),
		slog.String("output_dir", cfg.Paths.OutputDir),
	)
	return nil
}
