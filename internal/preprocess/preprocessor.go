package preprocess

import (
	"encoding/json"
	"fmt"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/params"
	"github.com/your-org/colony-strength/pkg/logger"
)

// Preprocessor runs an ordered chain of transformers built from step configs.
type Preprocessor struct {
	steps  []StepConfig
	regs   []Registration
	fp     string
	fitted []Transformer
}

// New validates the step list against the default registry.
// An empty list is the identity chain.
func New(steps []StepConfig) (*Preprocessor, error) {
	return NewWithRegistry(defaultRegistry, steps)
}

// NewWithRegistry is New with an explicit registry.
func NewWithRegistry(reg *Registry, steps []StepConfig) (*Preprocessor, error) {
	regs, err := resolveSteps(reg, steps)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint(steps, regs)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{
		steps: cloneSteps(steps),
		regs:  regs,
		fp:    fp,
	}, nil
}

func resolveSteps(reg *Registry, steps []StepConfig) ([]Registration, error) {
	seen := make(map[string]struct{}, len(steps))
	regs := make([]Registration, len(steps))
	for i, s := range steps {
		if err := params.Validate(&s); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		r, err := reg.Lookup(s.ClassPath)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		if err := checkOrderedParams(s.Params); err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		regs[i] = r
	}
	return regs, nil
}

// Steps returns a copy of the configured steps.
func (p *Preprocessor) Steps() []StepConfig {
	return cloneSteps(p.steps)
}

// IsFitted reports whether Fit has completed.
func (p *Preprocessor) IsFitted() bool {
	return p.fitted != nil
}

// Fit builds a fresh transformer for every step and fits each one on the
// output of the previous step. A failed Fit leaves the chain unfitted.
func (p *Preprocessor) Fit(f *datastore.Frame) error {
	p.fitted = nil
	fitted := make([]Transformer, 0, len(p.steps))
	current := f
	for i, s := range p.steps {
		t, err := p.regs[i].New(s.Params)
		if err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
		logger.Debugf("Fitting step %q (%s) on %d rows", s.Name, s.ClassPath, current.Len())
		if err := t.Fit(current); err != nil {
			return fmt.Errorf("step %q: fit: %w", s.Name, err)
		}
		// 次のステップは変換後のデータで学習する
		if i < len(p.steps)-1 {
			current, err = t.Transform(current)
			if err != nil {
				return fmt.Errorf("step %q: transform: %w", s.Name, err)
			}
		}
		fitted = append(fitted, t)
	}
	p.fitted = fitted
	return nil
}

// Transform applies the fitted steps in order. The input frame is not modified.
func (p *Preprocessor) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	if !p.IsFitted() {
		return nil, fmt.Errorf("preprocessor: %w: call Fit before Transform", ErrNotFitted)
	}
	out := f.Copy()
	for i, t := range p.fitted {
		var err error
		out, err = t.Transform(out)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", p.steps[i].Name, err)
		}
	}
	return out, nil
}

// FitTransform fits the chain and returns the transformed training frame.
func (p *Preprocessor) FitTransform(f *datastore.Frame) (*datastore.Frame, error) {
	if err := p.Fit(f); err != nil {
		return nil, err
	}
	return p.Transform(f)
}

// Metadata describes every fitted step.
func (p *Preprocessor) Metadata() ([]StepMetadata, error) {
	if !p.IsFitted() {
		return nil, fmt.Errorf("preprocessor: %w: no metadata before Fit", ErrNotFitted)
	}
	out := make([]StepMetadata, len(p.steps))
	for i, s := range p.steps {
		out[i] = StepMetadata{
			Name:       s.Name,
			ClassPath:  s.ClassPath,
			Params:     cloneParams(s.Params),
			SourceHash: p.regs[i].SourceHash(),
		}
	}
	return out, nil
}

// Fingerprint returns the fingerprint of the configured chain.
func (p *Preprocessor) Fingerprint() string {
	return p.fp
}

// FittedStep is a step config together with its learned state.
type FittedStep struct {
	StepConfig
	State json.RawMessage `json:"state"`
}

// Export returns the fitted chain in a form that can be persisted.
func (p *Preprocessor) Export() ([]FittedStep, error) {
	if !p.IsFitted() {
		return nil, fmt.Errorf("preprocessor: %w", ErrNotFitted)
	}
	out := make([]FittedStep, len(p.steps))
	for i, t := range p.fitted {
		state, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("step %q: encode state: %w", p.steps[i].Name, err)
		}
		out[i] = FittedStep{StepConfig: p.steps[i], State: state}
	}
	return out, nil
}

// Restore rebuilds a fitted chain from exported steps using the default
// registry. Transformers are re-created from their params and then receive
// their learned state.
func Restore(steps []FittedStep) (*Preprocessor, error) {
	return RestoreWithRegistry(defaultRegistry, steps)
}

// RestoreWithRegistry is Restore with an explicit registry.
func RestoreWithRegistry(reg *Registry, steps []FittedStep) (*Preprocessor, error) {
	configs := make([]StepConfig, len(steps))
	for i, s := range steps {
		configs[i] = s.StepConfig
	}
	p, err := NewWithRegistry(reg, configs)
	if err != nil {
		return nil, err
	}
	fitted := make([]Transformer, len(steps))
	for i, s := range steps {
		t, err := p.regs[i].New(s.Params)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		if len(s.State) > 0 {
			if err := json.Unmarshal(s.State, t); err != nil {
				return nil, fmt.Errorf("step %q: decode state: %w", s.Name, err)
			}
		}
		fitted[i] = t
	}
	p.fitted = fitted
	return p, nil
}

func cloneSteps(steps []StepConfig) []StepConfig {
	out := make([]StepConfig, len(steps))
	for i, s := range steps {
		out[i] = StepConfig{Name: s.Name, ClassPath: s.ClassPath, Params: cloneParams(s.Params)}
	}
	return out
}

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
