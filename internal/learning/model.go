package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/colony-strength/pkg/logger"
)

// ModelConfigは分類器のアルゴリズムとハイパーパラメータを指定します。
type ModelConfig struct {
	ModelClassPath  string         `json:"model_class_path"`
	Hyperparameters map[string]any `json:"hyperparameters"`
}

// ColonyClassifierは設定から分類器を生成して学習するラッパーです。
// 実際のモデルはFitの中で生成されます。
type ColonyClassifier struct {
	config  ModelConfig
	model   Classifier
	classes []string
	version string
}

// NewColonyClassifierは新しいColonyClassifierを生成します。
func NewColonyClassifier(config ModelConfig) *ColonyClassifier {
	return &ColonyClassifier{config: config}
}

// Fitはモデルを生成して訓練します。成功するたびに新しいバージョンが付与されます。
func (c *ColonyClassifier) Fit(ctx context.Context, X [][]float64, y []string) error {
	m, err := NewModel(c.config.ModelClassPath, c.config.Hyperparameters)
	if err != nil {
		return err
	}
	logger.Infof("Training %s on %d rows...", c.config.ModelClassPath, len(X))
	if err := m.Fit(ctx, X, y); err != nil {
		return fmt.Errorf("failed to fit %s: %w", c.config.ModelClassPath, err)
	}
	c.model = m
	c.classes = m.Classes()
	c.version = fmt.Sprintf("model-%s", uuid.New().String())
	logger.Infof("Training complete. New version: %s, classes: %v", c.version, c.classes)
	return nil
}

// Predictは各行のラベルを返します。
func (c *ColonyClassifier) Predict(ctx context.Context, X [][]float64) ([]string, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}
	return c.model.Predict(ctx, X)
}

// Classesは学習したクラスを返します。Fit前はnilです。
func (c *ColonyClassifier) Classes() []string {
	return append([]string(nil), c.classes...)
}

// Versionはモデルのバージョンを返します。
func (c *ColonyClassifier) Version() string {
	return c.version
}

// Configはモデル設定を返します。
func (c *ColonyClassifier) Config() ModelConfig {
	return c.config
}

// FeatureImportancesは内部モデルの特徴量重要度を返します。
func (c *ColonyClassifier) FeatureImportances() ([]float64, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}
	fi, ok := c.model.(FeatureImporter)
	if !ok {
		return nil, fmt.Errorf("the underlying model %s does not have feature importances", c.config.ModelClassPath)
	}
	return fi.FeatureImportances()
}

// ClassifierStateは学習済み分類器の保存形式です。
type ClassifierState struct {
	Config  ModelConfig     `json:"config"`
	Version string          `json:"version"`
	Classes []string        `json:"classes"`
	Model   json.RawMessage `json:"model"`
}

// Stateは学習済みの状態を返します。
func (c *ColonyClassifier) State() (*ClassifierState, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}
	raw, err := json.Marshal(c.model)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return &ClassifierState{
		Config:  c.config,
		Version: c.version,
		Classes: c.Classes(),
		Model:   raw,
	}, nil
}

// RestoreClassifierは保存された状態から分類器を復元します。
func RestoreClassifier(s *ClassifierState) (*ColonyClassifier, error) {
	m, err := NewModel(s.Config.ModelClassPath, s.Config.Hyperparameters)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(s.Model, m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if len(m.Classes()) == 0 {
		return nil, fmt.Errorf("restored model has no classes")
	}
	return &ColonyClassifier{
		config:  s.Config,
		model:   m,
		classes: m.Classes(),
		version: s.Version,
	}, nil
}
