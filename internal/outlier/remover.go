// Package outlier filters out readings from sensor groups whose mean
// temperature is implausible.
package outlier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/pkg/logger"
)

// ErrNotFitted is returned by Transform before Fit.
var ErrNotFitted = errors.New("outlier remover is not fitted yet, call Fit before Transform")

// Config holds the filter settings.
type Config struct {
	GroupByColumn     string  `json:"group_by_column"`
	TemperatureColumn string  `json:"temperature_column"`
	MinTempThreshold  float64 `json:"min_temp_threshold"`
	MaxTempThreshold  float64 `json:"max_temp_threshold"`
}

// Remover learns the mean temperature of every group at fit time and drops
// all rows of groups whose mean falls outside [min, max].
type Remover struct {
	cfg        Config
	groupMeans map[string]float64
}

// NewRemover creates an unfitted remover.
func NewRemover(cfg Config) *Remover {
	logger.Debugf("Initialized outlier remover with config: %+v", cfg)
	return &Remover{cfg: cfg}
}

// Config returns the remover settings.
func (r *Remover) Config() Config {
	return r.cfg
}

// Fit computes the mean temperature per group. Missing temperatures are
// skipped and rows without a group key do not form a group.
func (r *Remover) Fit(f *datastore.Frame) error {
	if missing := f.Missing(r.cfg.GroupByColumn, r.cfg.TemperatureColumn); len(missing) > 0 {
		return fmt.Errorf("input frame must contain columns %v, missing %v",
			[]string{r.cfg.GroupByColumn, r.cfg.TemperatureColumn}, missing)
	}
	keys, err := f.Keys(r.cfg.GroupByColumn)
	if err != nil {
		return err
	}
	temps, err := f.Numeric(r.cfg.TemperatureColumn)
	if err != nil {
		return err
	}

	groups := make(map[string][]float64)
	for i, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			groups[k] = nil
		}
		if !math.IsNaN(temps[i]) {
			groups[k] = append(groups[k], temps[i])
		}
	}

	means := make(map[string]float64, len(groups))
	for k, vals := range groups {
		// 平均が計算できないグループは学習しない (変換時に除外される)
		if len(vals) == 0 {
			continue
		}
		means[k] = stat.Mean(vals, nil)
	}
	r.groupMeans = means
	logger.Infof("Outlier remover fitted: mean of %q grouped by %q for %d groups",
		r.cfg.TemperatureColumn, r.cfg.GroupByColumn, len(means))
	return nil
}

// IsFitted reports whether Fit has completed.
func (r *Remover) IsFitted() bool {
	return r.groupMeans != nil
}

// GroupMeans returns a copy of the learned means.
func (r *Remover) GroupMeans() map[string]float64 {
	out := make(map[string]float64, len(r.groupMeans))
	for k, v := range r.groupMeans {
		out[k] = v
	}
	return out
}

// Transform drops rows whose group mean is outside the thresholds or whose
// group was not seen at fit time. When labels is non-nil it is filtered in
// step with the frame. Record ids are preserved.
func (r *Remover) Transform(f *datastore.Frame, labels []string) (*datastore.Frame, []string, error) {
	if !r.IsFitted() {
		return nil, nil, ErrNotFitted
	}
	if labels != nil && len(labels) != f.Len() {
		return nil, nil, fmt.Errorf("labels have %d entries, frame has %d rows", len(labels), f.Len())
	}
	if !f.Has(r.cfg.GroupByColumn) {
		return nil, nil, fmt.Errorf("input frame must contain column %q", r.cfg.GroupByColumn)
	}
	keys, err := f.Keys(r.cfg.GroupByColumn)
	if err != nil {
		return nil, nil, err
	}

	mask := make([]bool, len(keys))
	var keptLabels []string
	if labels != nil {
		keptLabels = make([]string, 0, len(labels))
	}
	for i, k := range keys {
		mean, ok := r.groupMeans[k]
		mask[i] = ok && mean >= r.cfg.MinTempThreshold && mean <= r.cfg.MaxTempThreshold
		if mask[i] && labels != nil {
			keptLabels = append(keptLabels, labels[i])
		}
	}
	out, err := f.Filter(mask)
	if err != nil {
		return nil, nil, err
	}

	removed := f.Len() - out.Len()
	pct := 0.0
	if f.Len() > 0 {
		pct = 100 * float64(removed) / float64(f.Len())
	}
	logger.Infof("Removed %d rows (%.2f%% of total), rows before: %d, after: %d", removed, pct, f.Len(), out.Len())
	return out, keptLabels, nil
}

// FitTransform fits on f and filters it.
func (r *Remover) FitTransform(f *datastore.Frame, labels []string) (*datastore.Frame, []string, error) {
	if err := r.Fit(f); err != nil {
		return nil, nil, err
	}
	return r.Transform(f, labels)
}

// State is the persisted form of a fitted remover.
type State struct {
	Config     Config             `json:"config"`
	GroupMeans map[string]float64 `json:"group_means"`
}

// State returns the fitted state.
func (r *Remover) State() (State, error) {
	if !r.IsFitted() {
		return State{}, ErrNotFitted
	}
	return State{Config: r.cfg, GroupMeans: r.GroupMeans()}, nil
}

// Restore rebuilds a fitted remover.
func Restore(s State) *Remover {
	r := NewRemover(s.Config)
	r.groupMeans = make(map[string]float64, len(s.GroupMeans))
	for k, v := range s.GroupMeans {
		r.groupMeans[k] = v
	}
	return r
}
