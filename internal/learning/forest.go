package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// RandomForestはgolearnのCART分類木をバギングしたアンサンブルです。
// 木ごとにブートストラップ標本と特徴量の部分集合を選びます。
// 各木には seed + 木の番号 のシードが割り当てられるため、
// 並列に学習しても結果は同じになります。
type RandomForest struct {
	NEstimators int    `yaml:"n_estimators" json:"n_estimators" validate:"gte=1"`
	Criterion   string `yaml:"criterion" json:"criterion" validate:"omitempty,oneof=gini entropy"`
	MaxDepth    int    `yaml:"max_depth" json:"max_depth" validate:"gte=0"`
	MaxFeatures string `yaml:"max_features" json:"max_features" validate:"omitempty,oneof=sqrt log2 all"`
	Bootstrap   *bool  `yaml:"bootstrap" json:"bootstrap,omitempty"`
	RandomState *int64 `yaml:"random_state" json:"random_state,omitempty"`
	NJobs       int    `yaml:"n_jobs" json:"n_jobs"`

	ClassLabels []string     `yaml:"-" json:"classes"`
	NFeatures   int          `yaml:"-" json:"n_features"`
	Seed        int64        `yaml:"-" json:"seed"`
	Importances []float64    `yaml:"-" json:"feature_importances"`
	Training    *trainingSet `yaml:"-" json:"training,omitempty"`

	trees []*cartTree
}

// NewRandomForestはデフォルト設定のフォレストを生成します。
func NewRandomForest() *RandomForest {
	return &RandomForest{
		NEstimators: 100,
		Criterion:   "gini",
		MaxFeatures: "all",
	}
}

func (f *RandomForest) Classes() []string {
	return append([]string(nil), f.ClassLabels...)
}

func (f *RandomForest) Fit(ctx context.Context, X [][]float64, y []string) error {
	nFeatures, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}
	classes, yIdx := encodeLabels(y)

	seed := time.Now().UnixNano()
	if f.RandomState != nil {
		seed = *f.RandomState
	}
	f.ClassLabels = classes
	f.NFeatures = nFeatures
	f.Seed = seed
	f.Training = &trainingSet{X: sanitize(X), Y: yIdx}
	if err := f.refit(ctx); err != nil {
		return err
	}
	f.Importances, err = permutationImportances(f.Training.X, yIdx, f.predictIndex, rand.New(rand.NewSource(seed)))
	return err
}

// refitは保存された学習データとシードから全ての木を作り直します。
func (f *RandomForest) refit(ctx context.Context) error {
	X, yIdx := f.Training.X, f.Training.Y
	bootstrap := f.Bootstrap == nil || *f.Bootstrap
	k := resolveMaxFeatures(f.MaxFeatures, f.NFeatures)

	trees := make([]*cartTree, f.NEstimators)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers())
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(f.Seed + int64(i)))
			rows := allRows(len(X))
			if bootstrap {
				for j := range rows {
					rows[j] = rng.Intn(len(X))
				}
			}
			features := allRows(f.NFeatures)
			if k < f.NFeatures {
				features = rng.Perm(f.NFeatures)[:k]
				sort.Ints(features)
			}
			tree, err := fitCART(X, yIdx, rows, features, len(f.ClassLabels), f.Criterion, f.MaxDepth)
			if err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees
	return nil
}

func (f *RandomForest) workers() int {
	switch {
	case f.NJobs < 0:
		return runtime.NumCPU()
	case f.NJobs == 0:
		return 1
	default:
		return f.NJobs
	}
}

func (f *RandomForest) Predict(ctx context.Context, X [][]float64) ([]string, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(proba))
	for i, p := range proba {
		out[i] = f.ClassLabels[argmax(p)]
	}
	return out, nil
}

func (f *RandomForest) predictIndex(X [][]float64) ([]int, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = argmax(p)
	}
	return out, nil
}

// PredictProbaは各クラスに投票した木の割合を返します。
func (f *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkPredictData(X, f.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = make([]float64, len(f.ClassLabels))
	}
	for _, t := range f.trees {
		votes, err := t.predict(X)
		if err != nil {
			return nil, err
		}
		for i, c := range votes {
			out[i][c]++
		}
	}
	n := float64(len(f.trees))
	for i := range out {
		for c := range out[i] {
			out[i][c] /= n
		}
	}
	return out, nil
}

func (f *RandomForest) FeatureImportances() ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, ErrNotFitted
	}
	return append([]float64(nil), f.Importances...), nil
}

// UnmarshalJSONは保存された状態を読み込み、同じシードで木を学習し直します。
func (f *RandomForest) UnmarshalJSON(data []byte) error {
	type plain RandomForest
	if err := json.Unmarshal(data, (*plain)(f)); err != nil {
		return err
	}
	if f.Training == nil {
		return nil
	}
	return f.refit(context.Background())
}
