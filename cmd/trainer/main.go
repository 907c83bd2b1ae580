package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nemanja-m/wineml/internal/pipeline"
	"github.com/nemanja-m/wineml/internal/shared/config"
	"github.com/nemanja-m/wineml/internal/shared/logging"
)

func main() {
	configPath := flag.String("config", "", "path to trainer.properties (defaults to the bundled file)")
	printConfig := flag.Bool("print-config", false, "print the resolved configuration and exit")
	flag.Parse()

	cfg, err := config.LoadTrainer(*configPath)
	if err != nil {
		logging.NewSlogLogger(slog.LevelInfo).Fatal("Failed to load config", "error", err)
	}

	if *printConfig {
		if err := cfg.Properties.WriteYAML(os.Stdout); err != nil {
			logging.NewSlogLogger(slog.LevelInfo).Fatal("Failed to print config", "error", err)
		}
		return
	}

	logger := logging.NewFromConfig(os.Stderr, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.New(cfg, logger).Run(ctx)
	if err != nil {
		logger.Fatal("Training run failed", "error", err)
	}

	logger.Info("Training run finished",
		"rows", res.RowCount,
		"role", res.Role.String(),
		"outcome", res.Outcome.String(),
	)
}
