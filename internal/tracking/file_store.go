package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/colony-strength/pkg/logger"
)

// FileStore keeps runs and the model registry in a directory tree:
//
//	<root>/runs/<run_id>/run.json
//	<root>/runs/<run_id>/artifacts/<name>
//	<root>/models/<name>/<version>.json
type FileStore struct {
	root string
	mu   sync.Mutex
}

type registration struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFileStore creates the directory layout under root if needed.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{"runs", "models"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create tracking directory: %w", err)
		}
	}
	return &FileStore{root: root}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) runDir(id string) string {
	return filepath.Join(s.root, "runs", id)
}

func (s *FileStore) StartRun(_ context.Context, experiment, runName string) (*Run, error) {
	if experiment == "" {
		return nil, fmt.Errorf("experiment name is required")
	}
	run := newRun(uuid.NewString(), experiment, runName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Join(s.runDir(run.ID), "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := s.writeRun(run); err != nil {
		return nil, err
	}
	logger.Infof("Started run %s (%s) in experiment %q", run.ID, runName, experiment)
	return run, nil
}

func (s *FileStore) LogParams(_ context.Context, runID string, params map[string]string) error {
	return s.updateRun(runID, func(r *Run) error {
		for k, v := range params {
			r.Params[k] = v
		}
		return nil
	})
}

func (s *FileStore) LogMetrics(_ context.Context, runID string, metrics map[string]float64) error {
	return s.updateRun(runID, func(r *Run) error {
		for k, v := range metrics {
			r.Metrics[k] = v
		}
		return nil
	})
}

func (s *FileStore) LogDict(_ context.Context, runID, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeArtifact(runID, name, data)
}

func (s *FileStore) LogModel(_ context.Context, runID string, model []byte, registeredName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeArtifact(runID, ModelArtifact, model); err != nil {
		return 0, err
	}
	if registeredName == "" {
		return 0, nil
	}
	if strings.ContainsAny(registeredName, `/\`) || registeredName == "." || registeredName == ".." {
		return 0, fmt.Errorf("invalid registered model name %q", registeredName)
	}

	dir := filepath.Join(s.root, "models", registeredName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create registry directory: %w", err)
	}
	versions, err := s.versions(registeredName)
	if err != nil {
		return 0, err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}
	reg := registration{Name: registeredName, Version: next, RunID: runID, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(filepath.Join(dir, strconv.Itoa(next)+".json"), data); err != nil {
		return 0, err
	}
	logger.Infof("Registered model %s version %d from run %s", registeredName, next, runID)
	return next, nil
}

func (s *FileStore) EndRun(_ context.Context, runID string, status RunStatus) error {
	if err := validStatus(status); err != nil {
		return err
	}
	return s.updateRun(runID, func(r *Run) error {
		now := time.Now().UTC()
		r.Status = status
		r.EndTime = &now
		return nil
	})
}

func (s *FileStore) ListRuns(_ context.Context, experiment string) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var runs []*Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := s.readRun(e.Name())
		if err != nil {
			logger.Warnf("Skipping unreadable run %s: %v", e.Name(), err)
			continue
		}
		if r.Experiment == experiment {
			runs = append(runs, r)
		}
	}
	sortRuns(runs)
	return runs, nil
}

func (s *FileStore) OpenModel(_ context.Context, uri string) (io.ReadCloser, error) {
	ref, err := ParseModelURI(uri)
	if err != nil {
		return nil, err
	}
	switch {
	case ref.IsRegistry():
		s.mu.Lock()
		reg, err := s.resolve(ref)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return s.openArtifact(reg.RunID, ModelArtifact)
	case ref.IsRun():
		return s.openArtifact(ref.RunID, ref.Artifact)
	default:
		return openPath(ref.Path)
	}
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) resolve(ref ModelRef) (*registration, error) {
	version := ref.Version
	if version == 0 {
		versions, err := s.versions(ref.Name)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("%w: no versions of %q are registered", ErrModelNotFound, ref.Name)
		}
		version = versions[len(versions)-1]
	}
	data, err := os.ReadFile(filepath.Join(s.root, "models", ref.Name, strconv.Itoa(version)+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s version %d", ErrModelNotFound, ref.Name, version)
	}
	if err != nil {
		return nil, err
	}
	var reg registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("corrupt registration for %s version %d: %w", ref.Name, version, err)
	}
	return &reg, nil
}

// versions returns the registered versions of name in ascending order.
func (s *FileStore) versions(name string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "models", name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		v, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".json"))
		if err == nil && !e.IsDir() {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (s *FileStore) openArtifact(runID, name string) (io.ReadCloser, error) {
	p, err := s.artifactPath(runID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: run %s has no artifact %s", ErrModelNotFound, runID, name)
	}
	return f, err
}

func (s *FileStore) artifactPath(runID, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(s.runDir(runID), "artifacts", clean), nil
}

// writeArtifact must be called with s.mu held.
func (s *FileStore) writeArtifact(runID, name string, data []byte) error {
	if _, err := s.readRun(runID); err != nil {
		return err
	}
	p, err := s.artifactPath(runID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(p, data)
}

func (s *FileStore) updateRun(runID string, fn func(*Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.readRun(runID)
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	return s.writeRun(r)
}

func (s *FileStore) readRun(id string) (*Run, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(s.runDir(id), "run.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt run %s: %w", id, err)
	}
	if r.Params == nil {
		r.Params = map[string]string{}
	}
	if r.Metrics == nil {
		r.Metrics = map[string]float64{}
	}
	return &r, nil
}

func (s *FileStore) writeRun(r *Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.runDir(r.ID), "run.json"), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// openPath opens a model artifact on disk. A directory is taken to hold
// the artifact under its default file name.
func openPath(p string) (io.ReadCloser, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		p = filepath.Join(p, filepath.Base(ModelArtifact))
	}
	return os.Open(p)
}

func sortRuns(runs []*Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].StartTime.After(runs[j].StartTime)
		}
		return runs[i].ID < runs[j].ID
	})
}

// nopReadCloser wraps an in-memory artifact.
func nopReadCloser(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
