package datastore

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// SplitResult holds the train and test partitions of a dataset.
type SplitResult struct {
	TrainX *Frame
	TestX  *Frame
	TrainY []string
	TestY  []string
}

// Split partitions rows into train and test sets. The same seed always
// yields the same partition. When stratify is set every label keeps its
// share of rows in both partitions.
func Split(x *Frame, y []string, testSize float64, seed int64, stratify bool) (*SplitResult, error) {
	if len(y) != x.Len() {
		return nil, fmt.Errorf("labels have %d entries, frame has %d rows", len(y), x.Len())
	}
	if testSize < 0 || testSize > 1 {
		return nil, fmt.Errorf("test size must be within [0, 1], got %v", testSize)
	}

	rng := rand.New(rand.NewSource(seed))
	var testRows []int

	if stratify {
		groups := make(map[string][]int)
		var labels []string
		for i, label := range y {
			if _, ok := groups[label]; !ok {
				labels = append(labels, label)
			}
			groups[label] = append(groups[label], i)
		}
		sort.Strings(labels)
		for _, label := range labels {
			rows := groups[label]
			if len(rows) < 2 && testSize > 0 && testSize < 1 {
				return nil, fmt.Errorf("stratified split requires at least 2 rows per class, class %q has %d", label, len(rows))
			}
			rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
			n := int(math.Round(testSize * float64(len(rows))))
			testRows = append(testRows, rows[:n]...)
		}
	} else {
		perm := rng.Perm(x.Len())
		n := int(math.Ceil(testSize * float64(x.Len())))
		testRows = perm[:n]
	}

	inTest := make([]bool, x.Len())
	for _, r := range testRows {
		inTest[r] = true
	}
	var trainRows []int
	testRows = testRows[:0]
	for i := range inTest {
		if inTest[i] {
			testRows = append(testRows, i)
		} else {
			trainRows = append(trainRows, i)
		}
	}

	return &SplitResult{
		TrainX: x.Take(trainRows),
		TestX:  x.Take(testRows),
		TrainY: pick(y, trainRows),
		TestY:  pick(y, testRows),
	}, nil
}

func pick(y []string, rows []int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}
