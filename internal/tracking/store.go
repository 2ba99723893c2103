// Package tracking records training runs, their parameters, metrics and
// artifacts, and keeps a registry of versioned models.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultFileRoot is used when no tracking URI is configured.
const DefaultFileRoot = "mlruns"

// ModelArtifact is the artifact path of the model logged by LogModel.
const ModelArtifact = "model/model.json"

var (
	// ErrUnsupportedURI is returned for tracking URIs with an unknown scheme.
	ErrUnsupportedURI = errors.New("unsupported tracking URI")
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrModelNotFound is returned when a model URI cannot be resolved.
	ErrModelNotFound = errors.New("model not found")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
)

// Run is one training run of an experiment.
type Run struct {
	ID         string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	Name       string             `json:"run_name"`
	Status     RunStatus          `json:"status"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    *time.Time         `json:"end_time,omitempty"`
	Params     map[string]string  `json:"params"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Store persists runs and registered models.
type Store interface {
	StartRun(ctx context.Context, experiment, runName string) (*Run, error)
	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	// LogDict stores v as an indented JSON artifact named name.
	LogDict(ctx context.Context, runID, name string, v any) error
	// LogModel stores the serialized model under ModelArtifact. When
	// registeredName is set a new registry version is created and returned.
	LogModel(ctx context.Context, runID string, model []byte, registeredName string) (int, error)
	EndRun(ctx context.Context, runID string, status RunStatus) error
	// ListRuns returns the runs of an experiment, newest first.
	ListRuns(ctx context.Context, experiment string) ([]*Run, error)
	OpenModel(ctx context.Context, uri string) (io.ReadCloser, error)
	Close() error
}

// Open returns the store for a tracking URI. "file:<dir>" and plain paths
// select a FileStore, "postgres://" URLs a PostgresStore whose schema is
// migrated on open.
func Open(ctx context.Context, uri string) (Store, error) {
	switch {
	case uri == "":
		return NewFileStore(DefaultFileRoot)
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		if err := Migrate(uri); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to tracking database: %w", err)
		}
		return NewPostgresStore(pool), nil
	case strings.HasPrefix(uri, "file:"):
		return NewFileStore(filePath(uri))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	default:
		return NewFileStore(uri)
	}
}

func filePath(uri string) string {
	if p, ok := strings.CutPrefix(uri, "file://"); ok {
		return p
	}
	return strings.TrimPrefix(uri, "file:")
}

func newRun(id, experiment, runName string) *Run {
	return &Run{
		ID:         id,
		Experiment: experiment,
		Name:       runName,
		Status:     StatusRunning,
		StartTime:  time.Now().UTC(),
		Params:     map[string]string{},
		Metrics:    map[string]float64{},
	}
}

func validStatus(s RunStatus) error {
	switch s {
	case StatusRunning, StatusFinished, StatusFailed:
		return nil
	}
	return fmt.Errorf("invalid run status %q", s)
}
