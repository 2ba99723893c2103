package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/your-org/colony-strength/internal/learning"
	"github.com/your-org/colony-strength/internal/outlier"
	"github.com/your-org/colony-strength/internal/preprocess"
)

// FormatVersion is the version of the artifact document.
const FormatVersion = 1

// ArtifactFileName is the file name used for artifacts inside a run.
const ArtifactFileName = "model.json"

type artifact struct {
	FormatVersion  int                       `json:"format_version"`
	CreatedAt      time.Time                 `json:"created_at"`
	Fingerprint    string                    `json:"fingerprint"`
	Outlier        outlier.State             `json:"outlier_remover"`
	Preprocessor   []preprocess.FittedStep   `json:"preprocessor"`
	FeatureColumns []string                  `json:"feature_columns"`
	Classifier     *learning.ClassifierState `json:"classifier"`
}

// Save writes the fitted pipeline as a JSON document.
func (p *Pipeline) Save(w io.Writer) error {
	rs, err := p.Remover.State()
	if err != nil {
		return fmt.Errorf("outlier remover: %w", err)
	}
	steps, err := p.Preprocessor.Export()
	if err != nil {
		return fmt.Errorf("preprocessor: %w", err)
	}
	cs, err := p.Classifier.State()
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	doc := artifact{
		FormatVersion:  FormatVersion,
		CreatedAt:      time.Now().UTC(),
		Fingerprint:    p.Fingerprint(),
		Outlier:        rs,
		Preprocessor:   steps,
		FeatureColumns: p.FeatureColumns,
		Classifier:     cs,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Load reads a pipeline written by Save. Components are re-created through
// their registries; the chain fingerprint must match the stored one.
func Load(r io.Reader) (*Pipeline, error) {
	var doc artifact
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported artifact format version %d (expected %d)", doc.FormatVersion, FormatVersion)
	}
	if doc.Classifier == nil {
		return nil, fmt.Errorf("model artifact has no classifier")
	}
	normalizeSteps(doc.Preprocessor)
	doc.Classifier.Config.Hyperparameters = normalizeMap(doc.Classifier.Config.Hyperparameters)

	pre, err := preprocess.Restore(doc.Preprocessor)
	if err != nil {
		return nil, fmt.Errorf("failed to restore preprocessor: %w", err)
	}
	if pre.Fingerprint() != doc.Fingerprint {
		return nil, fmt.Errorf("fingerprint mismatch: artifact has %s, restored chain has %s", doc.Fingerprint, pre.Fingerprint())
	}
	clf, err := learning.RestoreClassifier(doc.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to restore classifier: %w", err)
	}
	return &Pipeline{
		Remover:        outlier.Restore(doc.Outlier),
		Preprocessor:   pre,
		FeatureColumns: doc.FeatureColumns,
		Classifier:     clf,
	}, nil
}

// SaveFile writes the artifact to path, creating parent directories.
func (p *Pipeline) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := p.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// 書き込み途中のファイルを読まれないようにrenameで置き換える
	return os.Rename(tmp, path)
}

// LoadFile reads an artifact from path.
func LoadFile(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// normalizeSteps turns json.Number params back into int or float64 so that
// they fingerprint and decode exactly as params read from YAML do.
func normalizeSteps(steps []preprocess.FittedStep) {
	for i := range steps {
		steps[i].Params = normalizeMap(steps[i].Params)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return normalizeMap(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}
