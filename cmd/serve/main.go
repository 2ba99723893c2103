// Command serve exposes the registered colony strength model over HTTP and,
// when a broker is configured, over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/colony-strength/internal/csvwriter"
	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/internal/http/handler"
	"github.com/your-org/colony-strength/internal/stream"
	"github.com/your-org/colony-strength/internal/tracking"
	"github.com/your-org/colony-strength/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// settings are read from the environment and overridden by flags.
type settings struct {
	Host              string `envconfig:"HOST" default:"0.0.0.0"`
	Port              int    `envconfig:"PORT" default:"8000"`
	ModelURI          string `envconfig:"MODEL_URI"`
	TrackingURI       string `envconfig:"TRACKING_URI"`
	MLflowTrackingURI string `envconfig:"MLFLOW_TRACKING_URI"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	PredictionLogCSV  string `envconfig:"PREDICTION_LOG_CSV"`
	Reload            bool   `envconfig:"MODEL_RELOAD"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`

	Writer dbwriter.Config `ignored:"true"`
	Stream stream.Config   `ignored:"true"`
}

// loadSettings processes the environment, then applies command line flags.
func loadSettings(args []string) (*settings, error) {
	var s settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", &s.Writer); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", &s.Stream); err != nil {
		return nil, err
	}
	if s.TrackingURI == "" {
		s.TrackingURI = s.MLflowTrackingURI
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&s.Host, "host", s.Host, "address to bind")
	fs.IntVar(&s.Port, "port", s.Port, "port to listen on")
	fs.StringVar(&s.ModelURI, "model-uri", s.ModelURI, "model URI (models:/<name>/<version|latest>, runs:/<id>/model or a path)")
	fs.StringVar(&s.TrackingURI, "tracking-uri", s.TrackingURI, "tracking URI used to resolve the model URI")
	fs.StringVar(&s.PredictionLogCSV, "prediction-log", s.PredictionLogCSV, "CSV file receiving served predictions when no database is configured")
	fs.BoolVar(&s.Reload, "reload", s.Reload, "reload the model when its artifact changes")
	fs.StringVar(&s.Stream.Broker, "mqtt-broker", s.Stream.Broker, "MQTT broker URL, e.g. tcp://localhost:1883")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if s.Port <= 0 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", s.Port)
	}
	return &s, nil
}

func (s *settings) addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func main() {
	_ = godotenv.Load()

	s, err := loadSettings(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(2)
	}
	logger.SetGlobalLogLevel(s.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s); err != nil {
		logger.Fatalf("Server exited with error: %v", err)
	}
	logger.Info("Colony strength service shut down gracefully.")
}

func run(ctx context.Context, s *settings) error {
	store, err := tracking.Open(ctx, s.TrackingURI)
	if err != nil {
		return fmt.Errorf("failed to open tracking store: %w", err)
	}
	defer store.Close()

	writer, err := openWriter(ctx, s)
	if err != nil {
		return err
	}
	defer writer.Close()

	metrics := handler.NewMetrics()
	svc := handler.NewModelService(store, s.ModelURI, metrics)
	if s.ModelURI != "" {
		// 失敗しても起動は続け、最初のリクエストで再試行する
		if err := svc.Reload(ctx); err != nil {
			logger.Warnf("Model not loaded at startup: %v", err)
		}
	} else {
		logger.Warn("MODEL_URI is not set, /predict will answer 503 until a model is configured")
	}

	srv := &http.Server{
		Addr:              s.addr(),
		Handler:           handler.NewRouter(svc, writer, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if s.Reload && s.ModelURI != "" {
		paths, err := tracking.WatchPaths(store, s.ModelURI)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			logger.Warnf("Model URI %s cannot be watched, -reload is ignored", s.ModelURI)
		} else {
			g.Go(func() error {
				return tracking.Watch(gctx, paths, func(ctx context.Context) {
					if err := svc.Reload(ctx); err != nil {
						logger.Warnf("Reload failed, keeping the current model: %v", err)
					}
				})
			})
		}
	}

	if s.Stream.Enabled() {
		transport, err := stream.Connect(s.Stream)
		if err != nil {
			return err
		}
		defer transport.Close()
		bridge := stream.NewBridge(transport, func(ctx context.Context) (stream.Predictor, error) {
			return svc.Predictor(ctx)
		}, writer, s.Stream)
		g.Go(func() error { return bridge.Run(gctx) })
	}

	return g.Wait()
}

// openWriter returns the prediction log writer: PostgreSQL when
// DATABASE_URL is set, else a CSV file when configured, else none. The
// writer owns the pool it opens.
func openWriter(ctx context.Context, s *settings) (dbwriter.DBWriter, error) {
	if s.DatabaseURL == "" {
		if s.PredictionLogCSV != "" {
			return csvwriter.NewWriter(s.PredictionLogCSV, logger.Zap())
		}
		return dbwriter.NewDummyWriter(logger.Zap()), nil
	}
	if err := tracking.Migrate(s.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, s.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Prediction log writer connected to the database.")
	return dbwriter.NewPostgresWriter(pool, s.Writer, logger.Zap()), nil
}
