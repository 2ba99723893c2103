package learning

import (
	"fmt"
	"sort"
)

// MetricFuncは正解と予測から評価値を計算します。
type MetricFunc func(yTrue, yPred []string) (float64, error)

var metrics = map[string]MetricFunc{
	"accuracy":        Accuracy,
	"f1_macro":        F1Macro,
	"precision_macro": PrecisionMacro,
	"recall_macro":    RecallMacro,
}

// MetricNamesは利用可能な評価指標の名前を返します。
func MetricNames() []string {
	out := make([]string, 0, len(metrics))
	for n := range metrics {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ComputeMetricsは指定された評価指標をまとめて計算します。
func ComputeMetrics(names []string, yTrue, yPred []string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for _, n := range names {
		fn, ok := metrics[n]
		if !ok {
			return nil, fmt.Errorf("unknown metric %q (available: %v)", n, MetricNames())
		}
		v, err := fn(yTrue, yPred)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		out[n] = v
	}
	return out, nil
}

func checkLabels(yTrue, yPred []string) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("y_true has %d labels but y_pred has %d", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return fmt.Errorf("no labels to evaluate")
	}
	return nil
}

// Accuracyは正解率です。
func Accuracy(yTrue, yPred []string) (float64, error) {
	if err := checkLabels(yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

type classStats struct {
	tp, fp, fn float64
}

// perClassは正解と予測に現れる全てのラベルについて集計します。
func perClass(yTrue, yPred []string) map[string]*classStats {
	stats := make(map[string]*classStats)
	get := func(l string) *classStats {
		s, ok := stats[l]
		if !ok {
			s = &classStats{}
			stats[l] = s
		}
		return s
	}
	for i := range yTrue {
		t, p := get(yTrue[i]), get(yPred[i])
		if yTrue[i] == yPred[i] {
			t.tp++
		} else {
			t.fn++
			p.fp++
		}
	}
	return stats
}

func safeDiv(a, b float64) float64 {
	// ゼロ除算は0として扱う
	if b == 0 {
		return 0
	}
	return a / b
}

func macro(yTrue, yPred []string, score func(s *classStats) float64) (float64, error) {
	if err := checkLabels(yTrue, yPred); err != nil {
		return 0, err
	}
	stats := perClass(yTrue, yPred)
	sum := 0.0
	for _, s := range stats {
		sum += score(s)
	}
	return sum / float64(len(stats)), nil
}

// PrecisionMacroはクラスごとの適合率の単純平均です。
func PrecisionMacro(yTrue, yPred []string) (float64, error) {
	return macro(yTrue, yPred, func(s *classStats) float64 { return safeDiv(s.tp, s.tp+s.fp) })
}

// RecallMacroはクラスごとの再現率の単純平均です。
func RecallMacro(yTrue, yPred []string) (float64, error) {
	return macro(yTrue, yPred, func(s *classStats) float64 { return safeDiv(s.tp, s.tp+s.fn) })
}

// F1MacroはクラスごとのF1スコアの単純平均です。
func F1Macro(yTrue, yPred []string) (float64, error) {
	return macro(yTrue, yPred, func(s *classStats) float64 { return safeDiv(2*s.tp, 2*s.tp+s.fp+s.fn) })
}

// ConfusionMatrixは行が正解、列が予測の混同行列を返します。
// labelsに無いラベルが正解か予測に現れた場合は、ソートしてlabelsの後ろに追加します。
// labelsが空の場合は現れたラベルをソートしたものになります。
func ConfusionMatrix(yTrue, yPred, labels []string) ([][]int, []string, error) {
	if err := checkLabels(yTrue, yPred); err != nil {
		return nil, nil, err
	}
	labels = append([]string(nil), labels...)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	var unseen []string
	for l := range perClass(yTrue, yPred) {
		if _, ok := index[l]; !ok {
			unseen = append(unseen, l)
		}
	}
	sort.Strings(unseen)
	for _, l := range unseen {
		index[l] = len(labels)
		labels = append(labels, l)
	}
	m := make([][]int, len(labels))
	for i := range m {
		m[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		m[index[yTrue[i]]][index[yPred[i]]]++
	}
	return m, labels, nil
}
