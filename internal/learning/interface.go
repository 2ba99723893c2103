package learning

import (
	"context"
	"errors"
)

// ErrNotFittedはFit前にモデルが使われた場合に返されます。
var ErrNotFitted = errors.New("model is not fitted yet")

// Classifierは表形式の特徴量からラベルを予測する分類器のインターフェースです。
type Classifier interface {
	// Fitは特徴量行列Xとラベルyでモデルを訓練します。
	Fit(ctx context.Context, X [][]float64, y []string) error
	// Predictは各行のラベルを返します。
	Predict(ctx context.Context, X [][]float64) ([]string, error)
	// Classesは学習したクラスをソート順で返します。
	Classes() []string
}

// FeatureImporterは特徴量重要度を持つ分類器が実装します。
type FeatureImporter interface {
	FeatureImportances() ([]float64, error)
}
