package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// DecisionTreeはgolearnのCART分類木のアダプタです。
// 欠損値(NaN)はどの閾値よりも大きい値として扱われ、右の子に進みます。
type DecisionTree struct {
	Criterion   string `yaml:"criterion" json:"criterion" validate:"omitempty,oneof=gini entropy"`
	MaxDepth    int    `yaml:"max_depth" json:"max_depth" validate:"gte=0"`
	RandomState *int64 `yaml:"random_state" json:"random_state,omitempty"`

	ClassLabels []string     `yaml:"-" json:"classes"`
	NFeatures   int          `yaml:"-" json:"n_features"`
	Importances []float64    `yaml:"-" json:"feature_importances"`
	Training    *trainingSet `yaml:"-" json:"training,omitempty"`

	tree *cartTree
}

// NewDecisionTreeはデフォルト設定の分類木を生成します。
func NewDecisionTree() *DecisionTree {
	return &DecisionTree{Criterion: "gini"}
}

func (t *DecisionTree) Classes() []string {
	return append([]string(nil), t.ClassLabels...)
}

func (t *DecisionTree) Fit(ctx context.Context, X [][]float64, y []string) error {
	nFeatures, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	classes, yIdx := encodeLabels(y)
	t.ClassLabels = classes
	t.NFeatures = nFeatures
	t.Training = &trainingSet{X: sanitize(X), Y: yIdx}
	if err := t.refit(); err != nil {
		return err
	}
	t.Importances, err = permutationImportances(t.Training.X, yIdx, t.tree.predict, newRand(t.RandomState))
	return err
}

// refitは保存された学習データで木を作り直します。CARTは決定的なので同じ木になります。
func (t *DecisionTree) refit() error {
	tree, err := fitCART(t.Training.X, t.Training.Y, allRows(len(t.Training.X)), allRows(t.NFeatures), len(t.ClassLabels), t.Criterion, t.MaxDepth)
	if err != nil {
		return err
	}
	t.tree = tree
	return nil
}

func (t *DecisionTree) Predict(ctx context.Context, X [][]float64) ([]string, error) {
	if t.tree == nil {
		return nil, ErrNotFitted
	}
	if err := checkPredictData(X, t.NFeatures); err != nil {
		return nil, err
	}
	idx, err := t.tree.predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(idx))
	for i, c := range idx {
		out[i] = t.ClassLabels[c]
	}
	return out, nil
}

func (t *DecisionTree) FeatureImportances() ([]float64, error) {
	if t.tree == nil {
		return nil, ErrNotFitted
	}
	return append([]float64(nil), t.Importances...), nil
}

// UnmarshalJSONは保存された状態を読み込み、学習データから木を復元します。
func (t *DecisionTree) UnmarshalJSON(data []byte) error {
	type plain DecisionTree
	if err := json.Unmarshal(data, (*plain)(t)); err != nil {
		return err
	}
	if t.Training == nil {
		return nil
	}
	return t.refit()
}

func resolveMaxFeatures(mode string, n int) int {
	var k int
	switch mode {
	case "sqrt":
		k = int(math.Sqrt(float64(n)))
	case "log2":
		k = int(math.Log2(float64(n)))
	default:
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

func checkTrainingData(X [][]float64, y []string) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("cannot fit on an empty dataset")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("X has %d rows but y has %d labels", len(X), len(y))
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return 0, fmt.Errorf("X has no features")
	}
	for i, row := range X {
		if len(row) != nFeatures {
			return 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}
	return nFeatures, nil
}

func checkPredictData(X [][]float64, nFeatures int) error {
	for i, row := range X {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, model expects %d", i, len(row), nFeatures)
		}
	}
	return nil
}

// encodeLabelsはソート済みのクラス一覧と各行のクラス番号を返します。
func encodeLabels(y []string) ([]string, []int) {
	set := make(map[string]struct{})
	for _, label := range y {
		set[label] = struct{}{}
	}
	classes := make([]string, 0, len(set))
	for c := range set {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	idx := make([]int, len(y))
	for i, label := range y {
		idx[i] = index[label]
	}
	return classes, idx
}

func normalize(counts []float64) []float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}

// argmaxは同点の場合、最初のインデックスを返します。
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func newRand(seed *int64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewSource(*seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
