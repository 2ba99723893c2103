package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/model"
	"github.com/your-org/colony-strength/internal/tracking"
	"github.com/your-org/colony-strength/pkg/logger"
)

// ErrModelNotLoaded is returned when predictions are requested before a model is available.
var ErrModelNotLoaded = errors.New("model is not loaded")

// Predictor is a loaded prediction pipeline.
type Predictor interface {
	Predict(ctx context.Context, f *datastore.Frame) (*model.Predictions, error)
	Version() string
	Fingerprint() string
}

// ModelStatus describes the model currently served.
type ModelStatus struct {
	Loaded      bool      `json:"loaded"`
	URI         string    `json:"model_uri,omitempty"`
	Version     string    `json:"version,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	LoadedAt    time.Time `json:"loaded_at,omitempty"`
}

type loadedModel struct {
	predictor Predictor
	uri       string
	loadedAt  time.Time
}

// ModelService holds the served model. The model is swapped atomically so
// requests in flight keep the pipeline they started with.
type ModelService struct {
	store   tracking.Store
	uri     string
	metrics *Metrics

	current atomic.Pointer[loadedModel]
	loadMu  sync.Mutex
}

// NewModelService creates a service that loads uri through store. Nothing
// is loaded until Reload or the first prediction.
func NewModelService(store tracking.Store, uri string, metrics *Metrics) *ModelService {
	return &ModelService{store: store, uri: uri, metrics: metrics}
}

// URI returns the configured model URI.
func (s *ModelService) URI() string { return s.uri }

// Set serves p directly.
func (s *ModelService) Set(p Predictor, uri string) {
	s.current.Store(&loadedModel{predictor: p, uri: uri, loadedAt: time.Now().UTC()})
	s.metrics.SetModel(p.Version(), p.Fingerprint())
}

// Predictor returns the served model, loading it on first use when a URI
// is configured.
func (s *ModelService) Predictor(ctx context.Context) (Predictor, error) {
	if m := s.current.Load(); m != nil {
		return m.predictor, nil
	}
	if s.uri == "" {
		return nil, fmt.Errorf("%w: no model URI configured", ErrModelNotLoaded)
	}
	if err := s.Reload(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}
	return s.current.Load().predictor, nil
}

// Reload loads the artifact at the configured URI and swaps it in. The
// previous model keeps serving if loading fails.
func (s *ModelService) Reload(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.uri == "" {
		return fmt.Errorf("no model URI configured")
	}
	if s.store == nil {
		return fmt.Errorf("no tracking store configured")
	}
	logger.Infof("Loading model from %s", s.uri)
	p, err := s.load(ctx)
	s.metrics.ObserveReload(err)
	if err != nil {
		logger.Errorf("Failed to load model: %v", err)
		return err
	}
	s.Set(p, s.uri)
	logger.Infof("Model %s loaded (fingerprint %s)", p.Version(), p.Fingerprint())
	return nil
}

func (s *ModelService) load(ctx context.Context) (*model.Pipeline, error) {
	rc, err := s.store.OpenModel(ctx, s.uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return model.Load(rc)
}

// Status reports the served model.
func (s *ModelService) Status() ModelStatus {
	m := s.current.Load()
	if m == nil {
		return ModelStatus{URI: s.uri}
	}
	return ModelStatus{
		Loaded:      true,
		URI:         m.uri,
		Version:     m.predictor.Version(),
		Fingerprint: m.predictor.Fingerprint(),
		LoadedAt:    m.loadedAt,
	}
}
