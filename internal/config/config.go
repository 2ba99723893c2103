// Package config handles pipeline configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/colony-strength/internal/outlier"
	"github.com/your-org/colony-strength/internal/params"
	"github.com/your-org/colony-strength/internal/preprocess"
)

const (
	// DefaultModelClassPath is used when the model section omits a class path.
	DefaultModelClassPath = "ensemble.RandomForestClassifier"
	// DefaultRunName is expanded by ResolveRunName.
	DefaultRunName = "run_{timestamp}"

	timestampLayout = "20060102_150405"
)

// PipelineConfig is the root of the training configuration document.
type PipelineConfig struct {
	DataLoader       DataLoaderConfig        `yaml:"data_loader"`
	OutlierRemover   OutlierRemoverConfig    `yaml:"outlier_remover"`
	DataPreprocessor []preprocess.StepConfig `yaml:"data_preprocessor" validate:"dive"`
	Model            ModelConfig             `yaml:"model"`
	Training         TrainingConfig          `yaml:"training"`
	Evaluation       EvaluationConfig        `yaml:"evaluation"`
	Tracking         TrackingConfig          `yaml:"tracking"`
	LogLevel         string                  `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error fatal"`
}

// DataLoaderConfig selects the data source.
type DataLoaderConfig struct {
	Type string `yaml:"type" validate:"required,oneof=csv"`
	Path string `yaml:"path" validate:"required,file"`
}

// OutlierRemoverConfig configures the group-mean temperature filter.
type OutlierRemoverConfig struct {
	GroupByColumn     string   `yaml:"group_by_column" validate:"required"`
	TemperatureColumn string   `yaml:"temperature_column" validate:"required"`
	MaxTempThreshold  *float64 `yaml:"max_temp_threshold" validate:"required"`
	MinTempThreshold  *float64 `yaml:"min_temp_threshold" validate:"required"`
}

// Bounds returns the thresholds. It must only be called on a validated config.
func (c OutlierRemoverConfig) Bounds() (lo, hi float64) {
	return *c.MinTempThreshold, *c.MaxTempThreshold
}

// Settings converts the section into the remover configuration.
func (c OutlierRemoverConfig) Settings() outlier.Config {
	lo, hi := c.Bounds()
	return outlier.Config{
		GroupByColumn:     c.GroupByColumn,
		TemperatureColumn: c.TemperatureColumn,
		MinTempThreshold:  lo,
		MaxTempThreshold:  hi,
	}
}

// ModelConfig selects the classifier and its hyperparameters.
type ModelConfig struct {
	ModelClassPath  string         `yaml:"model_class_path" json:"model_class_path"`
	Hyperparameters map[string]any `yaml:"hyperparameters" json:"hyperparameters"`
}

// TrainingConfig controls the train/test split and the feature set.
type TrainingConfig struct {
	TargetColumn   string    `yaml:"target_column" validate:"required"`
	FeatureColumns []string  `yaml:"feature_columns" validate:"required,min=1,unique,dive,required"`
	TestSize       *float64  `yaml:"test_size" validate:"omitempty,gte=0,lte=1"`
	RandomState    *int64    `yaml:"random_state"`
	Stratify       *FlexBool `yaml:"stratify"`
}

// EvaluationConfig lists the metrics computed on the test split.
type EvaluationConfig struct {
	Metrics []string `yaml:"metrics" validate:"dive,required"`
}

// TrackingConfig configures experiment tracking. The document may name this
// section "mlflow" instead of "tracking".
type TrackingConfig struct {
	TrackingURI         string `yaml:"tracking_uri" validate:"required"`
	ExperimentName      string `yaml:"experiment_name" validate:"required"`
	RunName             string `yaml:"run_name"`
	RegisteredModelName string `yaml:"registered_model_name" validate:"required"`
}

// rawConfig accepts both spellings of the tracking section.
type rawConfig struct {
	PipelineConfig `yaml:",inline"`
	MLflow         *TrackingConfig `yaml:"mlflow"`
}

// LoadConfig reads the YAML document at path, substitutes ${VAR} and
// ${VAR:-default} placeholders from the environment, applies defaults and
// validates the result.
func LoadConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is LoadConfig for an in-memory document.
func Parse(data []byte) (*PipelineConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root.Kind == 0 {
		return nil, fmt.Errorf("config document is empty")
	}
	resolveEnv(&root)

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(mustEncode(&root)))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg := raw.PipelineConfig
	if raw.MLflow != nil {
		if cfg.Tracking != (TrackingConfig{}) {
			return nil, fmt.Errorf("config must not contain both 'tracking' and 'mlflow' sections")
		}
		cfg.Tracking = *raw.MLflow
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mustEncode(n *yaml.Node) []byte {
	out, err := yaml.Marshal(n)
	if err != nil {
		// a node tree produced by yaml.Unmarshal always re-encodes
		panic(err)
	}
	return out
}

func (c *PipelineConfig) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Model.ModelClassPath == "" {
		c.Model.ModelClassPath = DefaultModelClassPath
	}
	if c.Model.Hyperparameters == nil {
		c.Model.Hyperparameters = map[string]any{}
	}
	if c.Training.TestSize == nil {
		v := 0.2
		c.Training.TestSize = &v
	}
	if c.Training.RandomState == nil {
		v := int64(42)
		c.Training.RandomState = &v
	}
	if c.Training.Stratify == nil {
		v := FlexBool(true)
		c.Training.Stratify = &v
	}
	if len(c.Evaluation.Metrics) == 0 {
		c.Evaluation.Metrics = []string{"accuracy", "f1_macro"}
	}
	if c.Tracking.RunName == "" {
		c.Tracking.RunName = DefaultRunName
	}
}

// Validate checks required fields and ranges. Errors name the YAML path of
// the offending field.
func (c *PipelineConfig) Validate() error {
	if err := params.Validate(c); err != nil {
		return err
	}
	if lo, hi := c.OutlierRemover.Bounds(); lo > hi {
		return fmt.Errorf("validation failed: outlier_remover.min_temp_threshold (%v) must not exceed max_temp_threshold (%v)", lo, hi)
	}
	return nil
}

// Split returns the effective split settings.
func (t TrainingConfig) Split() (testSize float64, seed int64, stratify bool) {
	testSize, seed, stratify = 0.2, 42, true
	if t.TestSize != nil {
		testSize = *t.TestSize
	}
	if t.RandomState != nil {
		seed = *t.RandomState
	}
	if t.Stratify != nil {
		stratify = bool(*t.Stratify)
	}
	return testSize, seed, stratify
}

// ResolveRunName replaces {timestamp} with now formatted as YYYYMMDD_HHMMSS.
func ResolveRunName(template string, now time.Time) string {
	return strings.ReplaceAll(template, "{timestamp}", now.Format(timestampLayout))
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::-([^}]+))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default}. Unset variables without
// a default become the empty string.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := envPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		return sub[2]
	})
}

// resolveEnv walks the document and expands placeholders in every string
// scalar. Expanded scalars lose their string tag so that "${PORT:-8000}"
// can still decode into a number.
func resolveEnv(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag != "!!str" || !strings.Contains(n.Value, "${") {
			return
		}
		expanded := ExpandEnv(n.Value)
		if expanded == n.Value {
			return
		}
		n.Value = expanded
		n.Tag = ""
		n.Style = 0
	case yaml.AliasNode:
		return
	default:
		for _, c := range n.Content {
			resolveEnv(c)
		}
	}
}
