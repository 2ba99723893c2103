package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/colony-strength/pkg/logger"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore keeps runs and the model registry in PostgreSQL. The schema
// lives in db/schema and is applied by Migrate.
type PostgresStore struct {
	pool Pool
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) StartRun(ctx context.Context, experiment, runName string) (*Run, error) {
	if experiment == "" {
		return nil, fmt.Errorf("experiment name is required")
	}
	run := newRun(uuid.NewString(), experiment, runName)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, experiment, run_name, status, start_time) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Experiment, run.Name, string(run.Status), run.StartTime)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	logger.Infof("Started run %s (%s) in experiment %q", run.ID, runName, experiment)
	return run, nil
}

func (s *PostgresStore) LogParams(ctx context.Context, runID string, params map[string]string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, k := range sortedKeys(params) {
			_, err := tx.Exec(ctx,
				`INSERT INTO run_params (run_id, key, value) VALUES ($1, $2, $3)
				 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`,
				runID, k, params[k])
			if err != nil {
				return fmt.Errorf("failed to log param %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, k := range sortedKeys(metrics) {
			_, err := tx.Exec(ctx,
				`INSERT INTO run_metrics (run_id, key, value) VALUES ($1, $2, $3)
				 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`,
				runID, k, metrics[k])
			if err != nil {
				return fmt.Errorf("failed to log metric %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LogDict(ctx context.Context, runID, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.putArtifact(ctx, s.pool, runID, name, data)
}

func (s *PostgresStore) LogModel(ctx context.Context, runID string, model []byte, registeredName string) (int, error) {
	var version int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.putArtifact(ctx, tx, runID, ModelArtifact, model); err != nil {
			return err
		}
		if registeredName == "" {
			return nil
		}
		// 同名モデルの同時登録をバージョン採番の間だけ直列化する
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, registeredName); err != nil {
			return fmt.Errorf("failed to lock registry: %w", err)
		}
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM registered_models WHERE name = $1`,
			registeredName).Scan(&version)
		if err != nil {
			return fmt.Errorf("failed to allocate model version: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO registered_models (name, version, run_id, created_at) VALUES ($1, $2, $3, $4)`,
			registeredName, version, runID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to register model: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if version > 0 {
		logger.Infof("Registered model %s version %d from run %s", registeredName, version, runID)
	}
	return version, nil
}

func (s *PostgresStore) EndRun(ctx context.Context, runID string, status RunStatus) error {
	if err := validStatus(status); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, end_time = $3 WHERE run_id = $1`,
		runID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, experiment string) ([]*Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id::text, experiment, run_name, status, start_time, end_time
		 FROM runs WHERE experiment = $1 ORDER BY start_time DESC`,
		experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	var runs []*Run
	byID := make(map[string]*Run)
	for rows.Next() {
		r := &Run{Params: map[string]string{}, Metrics: map[string]float64{}}
		var status string
		if err := rows.Scan(&r.ID, &r.Experiment, &r.Name, &status, &r.StartTime, &r.EndTime); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
		byID[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	if err := s.loadParams(ctx, ids, byID); err != nil {
		return nil, fmt.Errorf("failed to query params: %w", err)
	}
	if err := s.loadMetrics(ctx, ids, byID); err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *PostgresStore) loadParams(ctx context.Context, ids []string, byID map[string]*Run) error {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id::text, key, value FROM run_params WHERE run_id::text = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, key, value string
		if err := rows.Scan(&id, &key, &value); err != nil {
			return err
		}
		if r, ok := byID[id]; ok {
			r.Params[key] = value
		}
	}
	return rows.Err()
}

func (s *PostgresStore) loadMetrics(ctx context.Context, ids []string, byID map[string]*Run) error {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id::text, key, value FROM run_metrics WHERE run_id::text = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, key string
		var value float64
		if err := rows.Scan(&id, &key, &value); err != nil {
			return err
		}
		if r, ok := byID[id]; ok {
			r.Metrics[key] = value
		}
	}
	return rows.Err()
}

func (s *PostgresStore) OpenModel(ctx context.Context, uri string) (io.ReadCloser, error) {
	ref, err := ParseModelURI(uri)
	if err != nil {
		return nil, err
	}
	var content []byte
	switch {
	case ref.IsRegistry():
		err = s.pool.QueryRow(ctx,
			`SELECT a.content FROM registered_models m
			 JOIN run_artifacts a ON a.run_id = m.run_id AND a.name = $3
			 WHERE m.name = $1 AND ($2 = 0 OR m.version = $2)
			 ORDER BY m.version DESC LIMIT 1`,
			ref.Name, ref.Version, ModelArtifact).Scan(&content)
	case ref.IsRun():
		err = s.pool.QueryRow(ctx,
			`SELECT content FROM run_artifacts WHERE run_id::text = $1 AND name = $2`,
			ref.RunID, ref.Artifact).Scan(&content)
	default:
		return openPath(ref.Path)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model %s: %w", uri, err)
	}
	return nopReadCloser(content), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) putArtifact(ctx context.Context, db execer, runID, name string, data []byte) error {
	_, err := db.Exec(ctx,
		`INSERT INTO run_artifacts (run_id, name, content) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, name) DO UPDATE SET content = EXCLUDED.content`,
		runID, name, data)
	if err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Warnf("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
