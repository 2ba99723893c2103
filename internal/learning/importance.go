package learning

import (
	"math/rand"
)

// permutationImportancesは各特徴量の列をシャッフルしたときの正解率の低下を
// 合計1に正規化して返します。低下しない特徴量は0です。
func permutationImportances(X [][]float64, yIdx []int, predict func([][]float64) ([]int, error), rng *rand.Rand) ([]float64, error) {
	baseline, err := indexAccuracy(X, yIdx, predict)
	if err != nil {
		return nil, err
	}
	nFeatures := len(X[0])
	drops := make([]float64, nFeatures)
	shuffled := make([][]float64, len(X))
	for i, row := range X {
		shuffled[i] = append([]float64(nil), row...)
	}
	for f := 0; f < nFeatures; f++ {
		perm := rng.Perm(len(X))
		for i := range shuffled {
			shuffled[i][f] = X[perm[i]][f]
		}
		acc, err := indexAccuracy(shuffled, yIdx, predict)
		if err != nil {
			return nil, err
		}
		if d := baseline - acc; d > 0 {
			drops[f] = d
		}
		for i := range shuffled {
			shuffled[i][f] = X[i][f]
		}
	}
	return normalize(drops), nil
}

func indexAccuracy(X [][]float64, yIdx []int, predict func([][]float64) ([]int, error)) (float64, error) {
	pred, err := predict(X)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, p := range pred {
		if p == yIdx[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yIdx)), nil
}
