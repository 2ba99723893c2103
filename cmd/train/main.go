// Command train fits the colony strength pipeline described by a YAML
// configuration and registers the resulting model.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/colony-strength/internal/config"
	"github.com/your-org/colony-strength/internal/tracking"
	"github.com/your-org/colony-strength/internal/training"
	"github.com/your-org/colony-strength/pkg/logger"
)

func main() {
	var configPath string
	var trackingURI string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	flag.StringVar(&trackingURI, "tracking-uri", "", "tracking URI (overrides the config file)")
	flag.Parse()

	// .envがなくてもよい
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogLevel(cfg.LogLevel)
	defer logger.Sync()
	logger.Infof("Loaded configuration from: %s", configPath)

	if trackingURI != "" {
		cfg.Tracking.TrackingURI = trackingURI
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := tracking.Open(ctx, cfg.Tracking.TrackingURI)
	if err != nil {
		logger.Fatalf("Failed to open tracking store %q: %v", cfg.Tracking.TrackingURI, err)
	}
	defer store.Close()

	res, err := training.Run(ctx, cfg, store, time.Now())
	if err != nil {
		logger.Fatalf("Training failed: %v", err)
	}
	for name, v := range evaluationMetrics(res) {
		logger.Infof("  %s: %.4f", name, v)
	}
	logger.Infof("Training complete. Run %s, model %s version %d, fingerprint %s",
		res.RunID, cfg.Tracking.RegisteredModelName, res.ModelVersion, res.Fingerprint)
}

func evaluationMetrics(res *training.Result) map[string]float64 {
	if res.Evaluation == nil {
		return nil
	}
	return res.Evaluation.Metrics
}
