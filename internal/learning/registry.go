package learning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/your-org/colony-strength/internal/params"
)

// ModelFactoryはハイパーパラメータから未学習の分類器を生成します。
type ModelFactory func(hyperparameters map[string]any) (Classifier, error)

var models = map[string]ModelFactory{
	"ensemble.RandomForestClassifier": decodeInto(NewRandomForest),
	"tree.DecisionTreeClassifier":     decodeInto(NewDecisionTree),
	"neighbors.NearestCentroid":       decodeInto(func() *NearestCentroid { return &NearestCentroid{} }),
}

// decodeIntoはデフォルト値を持つモデルにハイパーパラメータを上書きします。
func decodeInto[T Classifier](newModel func() T) ModelFactory {
	return func(hp map[string]any) (Classifier, error) {
		m := newModel()
		if err := params.Decode(hp, m); err != nil {
			return nil, fmt.Errorf("invalid hyperparameters: %w", err)
		}
		return m, nil
	}
}

// CanonicalModelPathはクラスパスを正規化します。"sklearn."の接頭辞は省略できます。
func CanonicalModelPath(classPath string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(classPath), "sklearn.")
	if _, ok := models[p]; !ok {
		return "", fmt.Errorf("could not resolve model class path %q (available: %v)", classPath, ModelClassPaths())
	}
	return p, nil
}

// NewModelはクラスパスとハイパーパラメータから分類器を生成します。
func NewModel(classPath string, hyperparameters map[string]any) (Classifier, error) {
	p, err := CanonicalModelPath(classPath)
	if err != nil {
		return nil, err
	}
	return models[p](hyperparameters)
}

// ModelClassPathsは利用可能なクラスパスを返します。
func ModelClassPaths() []string {
	out := make([]string, 0, len(models))
	for p := range models {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
