// Package preprocess assembles declarative feature-transformation chains.
//
// A chain is an ordered list of named steps read from the pipeline
// configuration. Each step names a transformer class through its class path
// and carries free-form params. The same fitted chain is applied at training
// and at inference time, and the chain configuration has a stable fingerprint
// that is logged with every training run.
package preprocess

import (
	"errors"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/your-org/colony-strength/internal/datastore"
)

// ErrNotFitted is returned when a chain or a transformer is used before Fit.
var ErrNotFitted = errors.New("not fitted")

// StepConfig is one entry of the data_preprocessor list.
type StepConfig struct {
	Name      string         `yaml:"name" json:"name" validate:"required"`
	ClassPath string         `yaml:"class_path" json:"class_path" validate:"required"`
	Params    map[string]any `yaml:"params" json:"params"`
}

// UnmarshalYAML keeps the document order of mapping-valued params. A mapping
// with several keys is stored as a list of single-key mappings, so the order
// survives map[string]any, fingerprints and artifacts.
func (s *StepConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch k := value.Content[i].Value; k {
		case "name", "class_path", "params":
		default:
			return fmt.Errorf("line %d: field %s not found in step", value.Content[i].Line, k)
		}
	}
	var raw struct {
		Name      string    `yaml:"name"`
		ClassPath string    `yaml:"class_path"`
		Params    yaml.Node `yaml:"params"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Name, s.ClassPath, s.Params = raw.Name, raw.ClassPath, nil

	p := &raw.Params
	if p.Kind == 0 || p.Tag == "!!null" {
		return nil
	}
	if p.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: params of step %q must be a mapping", p.Line, raw.Name)
	}
	s.Params = make(map[string]any, len(p.Content)/2)
	for i := 0; i+1 < len(p.Content); i += 2 {
		key, val := p.Content[i], p.Content[i+1]
		if val.Kind != yaml.MappingNode || len(val.Content) <= 2 {
			var v any
			if err := val.Decode(&v); err != nil {
				return err
			}
			s.Params[key.Value] = v
			continue
		}
		pairs := make([]any, 0, len(val.Content)/2)
		for j := 0; j+1 < len(val.Content); j += 2 {
			var item any
			if err := val.Content[j+1].Decode(&item); err != nil {
				return err
			}
			pairs = append(pairs, map[string]any{val.Content[j].Value: item})
		}
		s.Params[key.Value] = pairs
	}
	return nil
}

// checkOrderedParams rejects mapping-valued params with several keys. Go maps
// have no order, and steps pair mapping entries with output columns by position.
func checkOrderedParams(p map[string]any) error {
	for k, v := range p {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Map && rv.Len() > 1 {
			return fmt.Errorf("param %q: a mapping with several keys has no order, write it as a list of single-key mappings", k)
		}
	}
	return nil
}

// Transformer is a single feature transformation.
// Fit learns state from a frame; Transform returns a new frame and never
// mutates its input.
type Transformer interface {
	Fit(f *datastore.Frame) error
	Transform(f *datastore.Frame) (*datastore.Frame, error)
}

// StepMetadata describes a fitted step for experiment tracking.
type StepMetadata struct {
	Name       string         `json:"name"`
	ClassPath  string         `json:"class_path"`
	Params     map[string]any `json:"params"`
	SourceHash string         `json:"source_hash"`
}
