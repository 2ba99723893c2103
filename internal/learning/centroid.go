package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NearestCentroidは各クラスの重心に最も近いクラスを予測します。
// 特徴量重要度は持ちません。
type NearestCentroid struct {
	ClassLabels []string    `yaml:"-" json:"classes"`
	Centroids   [][]float64 `yaml:"-" json:"centroids"`

	centroids *mat.Dense
}

func (c *NearestCentroid) Classes() []string {
	return append([]string(nil), c.ClassLabels...)
}

func (c *NearestCentroid) Fit(ctx context.Context, X [][]float64, y []string) error {
	nFeatures, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}
	classes, yIdx := encodeLabels(y)

	m := mat.NewDense(len(classes), nFeatures, nil)
	col := make([]float64, 0, len(X))
	for k := range classes {
		for j := 0; j < nFeatures; j++ {
			col = col[:0]
			for i, row := range X {
				if yIdx[i] == k && !math.IsNaN(row[j]) {
					col = append(col, row[j])
				}
			}
			v := 0.0
			if len(col) > 0 {
				v = stat.Mean(col, nil)
			}
			m.Set(k, j, v)
		}
	}
	c.ClassLabels = classes
	c.centroids = m
	c.Centroids = make([][]float64, len(classes))
	for k := range classes {
		c.Centroids[k] = mat.Row(nil, k, m)
	}
	return ctx.Err()
}

// UnmarshalJSONは保存された重心から行列を再構築します。
func (c *NearestCentroid) UnmarshalJSON(b []byte) error {
	type plain NearestCentroid
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = NearestCentroid(p)
	if len(c.Centroids) == 0 {
		return nil
	}
	nFeatures := len(c.Centroids[0])
	c.centroids = mat.NewDense(len(c.Centroids), nFeatures, nil)
	for k, row := range c.Centroids {
		if len(row) != nFeatures {
			return fmt.Errorf("centroid %d has %d features, expected %d", k, len(row), nFeatures)
		}
		c.centroids.SetRow(k, row)
	}
	return nil
}

func (c *NearestCentroid) Predict(ctx context.Context, X [][]float64) ([]string, error) {
	if len(c.Centroids) == 0 {
		return nil, ErrNotFitted
	}
	_, nFeatures := c.centroids.Dims()
	out := make([]string, len(X))
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), nFeatures)
		}
		best, bestDist := 0, math.Inf(1)
		for k := range c.ClassLabels {
			d := floats.Distance(row, c.centroids.RawRowView(k), 2)
			if d < bestDist {
				best, bestDist = k, d
			}
		}
		out[i] = c.ClassLabels[best]
	}
	return out, nil
}
