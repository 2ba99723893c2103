package learning

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sjwhitworth/golearn/base"
	"github.com/sjwhitworth/golearn/trees"
)

// missingValueは欠損値(NaN)の代わりに使う値です。
// どの分割閾値よりも大きいため、欠損値は常に右の子に進みます。
const missingValue = math.MaxFloat64

// cartTreeは特徴量の部分集合で学習したgolearnのCART分類木です。
type cartTree struct {
	features []int
	nClasses int
	model    *trees.CARTDecisionTreeClassifier
}

// cartDepthはmax_depthをgolearnの表現に変換します。0は無制限(-1)です。
func cartDepth(maxDepth int) int64 {
	if maxDepth <= 0 {
		return -1
	}
	return int64(maxDepth)
}

// fitCARTはrowsで指定された行(重複可)とfeaturesの列で分類木を学習します。
// クラスは0..nClasses-1の番号で渡します。
func fitCART(X [][]float64, yIdx []int, rows, features []int, nClasses int, criterion string, maxDepth int) (*cartTree, error) {
	grid, err := newGrid(X, rows, features, yIdx)
	if err != nil {
		return nil, err
	}
	labels := make([]int64, nClasses)
	for i := range labels {
		labels[i] = int64(i)
	}
	if criterion == "" {
		criterion = "gini"
	}
	m := trees.NewDecisionTreeClassifier(criterion, cartDepth(maxDepth), labels)
	if err := m.Fit(grid); err != nil {
		return nil, fmt.Errorf("cart fit failed: %w", err)
	}
	return &cartTree{features: features, nClasses: nClasses, model: m}, nil
}

// predictは各行のクラス番号を返します。
func (t *cartTree) predict(X [][]float64) ([]int, error) {
	grid, err := newGrid(X, allRows(len(X)), t.features, nil)
	if err != nil {
		return nil, err
	}
	pred := t.model.Predict(grid)
	if len(pred) != len(X) {
		return nil, fmt.Errorf("cart returned %d predictions for %d rows", len(pred), len(X))
	}
	out := make([]int, len(pred))
	for i, p := range pred {
		if p < 0 || int(p) >= t.nClasses {
			return nil, fmt.Errorf("cart predicted unknown class index %d", p)
		}
		out[i] = int(p)
	}
	return out, nil
}

// newGridはgolearnのデータセットを組み立てます。
// クラス列はクラス番号を持つ数値列です。yIdxがnilの場合は0で埋めます。
func newGrid(X [][]float64, rows, features []int, yIdx []int) (*base.DenseInstances, error) {
	inst := base.NewDenseInstances()
	specs := make([]base.AttributeSpec, len(features))
	for i, f := range features {
		specs[i] = inst.AddAttribute(base.NewFloatAttribute("x" + strconv.Itoa(f)))
	}
	class := base.NewFloatAttribute("class")
	classSpec := inst.AddAttribute(class)
	if err := inst.AddClassAttribute(class); err != nil {
		return nil, fmt.Errorf("failed to set class attribute: %w", err)
	}
	if err := inst.Extend(len(rows)); err != nil {
		return nil, fmt.Errorf("failed to allocate %d rows: %w", len(rows), err)
	}
	for i, r := range rows {
		for j, f := range features {
			v := X[r][f]
			if math.IsNaN(v) {
				v = missingValue
			}
			inst.Set(specs[j], i, base.PackFloatToBytes(v))
		}
		label := 0.0
		if yIdx != nil {
			label = float64(yIdx[r])
		}
		inst.Set(classSpec, i, base.PackFloatToBytes(label))
	}
	return inst, nil
}

// trainingSetは学習に使ったデータです。
// golearnの木は直列化できないため、復元時はこのデータで学習し直します。
type trainingSet struct {
	X [][]float64 `json:"x"`
	Y []int       `json:"y"`
}

// sanitizeはNaNをmissingValueに置き換えたコピーを返します。JSONはNaNを表現できません。
func sanitize(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) {
				v = missingValue
			}
			out[i][j] = v
		}
	}
	return out
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}
