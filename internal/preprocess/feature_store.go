package preprocess

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/params"
)

func builtins() []Registration {
	return []Registration{
		{Name: "IntToFloatConverter", Revision: 1, New: factoryFor[IntToFloatConverter]()},
		{Name: "MeanImputer", Revision: 1, New: factoryFor[MeanImputer]()},
		{Name: "GroupedAggregator", Revision: 1, New: factoryFor[GroupedAggregator]()},
		{Name: "ColumnSubtractor", Revision: 1, New: factoryFor[ColumnSubtractor]()},
		{Name: "AbsoluteDifference", Revision: 1, New: factoryFor[AbsoluteDifference]()},
		{Name: "ThresholdBinarizer", Revision: 1, New: factoryFor[ThresholdBinarizer]()},
	}
}

// paramChecker is implemented by transformers with constraints that
// struct tags cannot express.
type paramChecker interface {
	checkParams() error
}

// factoryFor decodes params straight into the transformer struct.
func factoryFor[T any, PT interface {
	*T
	Transformer
}]() Factory {
	return func(p map[string]any) (Transformer, error) {
		t := PT(new(T))
		if err := params.Decode(p, t); err != nil {
			return nil, err
		}
		if c, ok := any(t).(paramChecker); ok {
			if err := c.checkParams(); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
}

func requireColumns(step string, f *datastore.Frame, cols ...string) error {
	if missing := f.Missing(cols...); len(missing) > 0 {
		return fmt.Errorf("%s is missing required columns: %v", step, missing)
	}
	return nil
}

func requireAbsent(step string, f *datastore.Frame, cols ...string) error {
	for _, c := range cols {
		if f.Has(c) {
			return fmt.Errorf("%s would overwrite existing columns: %v", step, cols)
		}
	}
	return nil
}

// IntToFloatConverter converts integer columns to float columns so that
// missing values at inference time do not change the feature schema.
// Without explicit columns every Int column seen at fit time is converted.
type IntToFloatConverter struct {
	Columns []string `yaml:"columns" json:"columns,omitempty"`

	ToConvert []string `yaml:"-" json:"columns_to_convert"`
	Fitted    bool     `yaml:"-" json:"fitted"`
}

func (c *IntToFloatConverter) Fit(f *datastore.Frame) error {
	if len(c.Columns) > 0 {
		if err := requireColumns("IntToFloatConverter", f, c.Columns...); err != nil {
			return err
		}
		c.ToConvert = append([]string(nil), c.Columns...)
	} else {
		c.ToConvert = c.ToConvert[:0]
		for _, name := range f.Columns() {
			if k, _ := f.Kind(name); k == datastore.Int {
				c.ToConvert = append(c.ToConvert, name)
			}
		}
	}
	c.Fitted = true
	return nil
}

func (c *IntToFloatConverter) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	if !c.Fitted {
		return nil, fmt.Errorf("IntToFloatConverter: %w", ErrNotFitted)
	}
	out := f.Copy()
	for _, name := range c.ToConvert {
		if !out.Has(name) {
			continue
		}
		vals, err := out.Numeric(name)
		if err != nil {
			return nil, fmt.Errorf("IntToFloatConverter: %w", err)
		}
		if err := out.SetNumeric(name, datastore.Float, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MeanImputer fills missing values with the column means learned at fit time.
type MeanImputer struct {
	InputCols []string `yaml:"input_cols" json:"input_cols" validate:"required,min=1"`

	Means  map[string]float64 `yaml:"-" json:"imputation_values"`
	Fitted bool               `yaml:"-" json:"fitted"`
}

func (m *MeanImputer) Fit(f *datastore.Frame) error {
	if err := requireColumns("MeanImputer", f, m.InputCols...); err != nil {
		return err
	}
	m.Means = make(map[string]float64, len(m.InputCols))
	for _, name := range m.InputCols {
		vals, err := f.Numeric(name)
		if err != nil {
			return fmt.Errorf("MeanImputer: %w", err)
		}
		present := dropNaN(vals)
		// 全て欠損している列は補完値なし
		if len(present) == 0 {
			continue
		}
		m.Means[name] = stat.Mean(present, nil)
	}
	m.Fitted = true
	return nil
}

func (m *MeanImputer) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	if !m.Fitted {
		return nil, fmt.Errorf("MeanImputer: %w", ErrNotFitted)
	}
	out := f.Copy()
	for _, name := range m.InputCols {
		mean, ok := m.Means[name]
		if !ok || !out.Has(name) {
			continue
		}
		vals, err := out.Numeric(name)
		if err != nil {
			return nil, fmt.Errorf("MeanImputer: %w", err)
		}
		filled := false
		for i, v := range vals {
			if math.IsNaN(v) {
				vals[i] = mean
				filled = true
			}
		}
		kind, _ := out.Kind(name)
		if filled {
			kind = datastore.Float
		}
		if err := out.SetNumeric(name, kind, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

var aggregators = map[string]func([]float64) float64{
	"mean": func(v []float64) float64 {
		if len(v) == 0 {
			return math.NaN()
		}
		return stat.Mean(v, nil)
	},
	"sum": func(v []float64) float64 { return floats.Sum(v) },
	"min": func(v []float64) float64 {
		if len(v) == 0 {
			return math.NaN()
		}
		return floats.Min(v)
	},
	"max": func(v []float64) float64 {
		if len(v) == 0 {
			return math.NaN()
		}
		return floats.Max(v)
	},
	// sample standard deviation
	"std": func(v []float64) float64 {
		if len(v) < 2 {
			return math.NaN()
		}
		return stat.StdDev(v, nil)
	},
	"count": func(v []float64) float64 { return float64(len(v)) },
	"median": func(v []float64) float64 {
		if len(v) == 0 {
			return math.NaN()
		}
		s := append([]float64(nil), v...)
		sort.Float64s(s)
		mid := len(s) / 2
		if len(s)%2 == 1 {
			return s[mid]
		}
		return (s[mid-1] + s[mid]) / 2
	},
}

// GroupedAggregator computes per-group aggregates at fit time and joins them
// back onto every row by the group key. Output column j names the j-th
// (column, function) pair in the order the aggregations are written. Rows
// whose group was not seen at fit time get missing values.
type GroupedAggregator struct {
	InputCols    []string     `yaml:"input_cols" json:"input_cols" validate:"required,min=1"`
	GroupByCol   string       `yaml:"groupby_col" json:"groupby_col" validate:"required"`
	Aggregations Aggregations `yaml:"aggregations" json:"aggregations" validate:"required,min=1"`
	OutputCols   []string     `yaml:"output_cols" json:"output_cols" validate:"required,min=1,unique"`

	Groups map[string]nullableFloats `yaml:"-" json:"groups"`
	Fitted bool                      `yaml:"-" json:"fitted"`
}

// ColumnAggregation lists the functions applied to one column.
type ColumnAggregation struct {
	Column    string   `json:"column"`
	Functions []string `json:"functions"`
}

// Aggregations is written either as a mapping of column to functions or as a
// list of single-key mappings. Entries keep the order they are written in.
type Aggregations []ColumnAggregation

func (a *Aggregations) UnmarshalYAML(value *yaml.Node) error {
	var out Aggregations
	add := func(k, v *yaml.Node) error {
		var fns []string
		if err := v.Decode(&fns); err != nil {
			return fmt.Errorf("aggregations for %q: %w", k.Value, err)
		}
		out = append(out, ColumnAggregation{Column: k.Value, Functions: fns})
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			if err := add(value.Content[i], value.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return fmt.Errorf("line %d: each aggregations entry must map one column to its functions", item.Line)
			}
			if err := add(item.Content[0], item.Content[1]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: aggregations must be a mapping or a list", value.Line)
	}
	*a = out
	return nil
}

type aggSpec struct {
	column string
	fn     string
}

func (g *GroupedAggregator) specs() []aggSpec {
	var out []aggSpec
	for _, a := range g.Aggregations {
		for _, fn := range a.Functions {
			out = append(out, aggSpec{column: a.Column, fn: fn})
		}
	}
	return out
}

func (g *GroupedAggregator) checkParams() error {
	specs := g.specs()
	for _, s := range specs {
		if _, ok := aggregators[s.fn]; !ok {
			return fmt.Errorf("GroupedAggregator: unsupported aggregation %q for column %q", s.fn, s.column)
		}
	}
	if len(specs) != len(g.OutputCols) {
		return fmt.Errorf("GroupedAggregator: %d aggregations but %d output_cols", len(specs), len(g.OutputCols))
	}
	return nil
}

func (g *GroupedAggregator) Fit(f *datastore.Frame) error {
	required := append(append([]string(nil), g.InputCols...), g.GroupByCol)
	if err := requireColumns("GroupedAggregator", f, required...); err != nil {
		return err
	}
	specs := g.specs()
	for _, s := range specs {
		if err := requireColumns("GroupedAggregator", f, s.column); err != nil {
			return err
		}
	}

	keys, err := f.Keys(g.GroupByCol)
	if err != nil {
		return err
	}
	// group key -> row positions, missing keys are not a group
	rows := make(map[string][]int)
	for i, k := range keys {
		if k == "" {
			continue
		}
		rows[k] = append(rows[k], i)
	}

	values := make(map[string][]float64)
	for _, s := range specs {
		if _, ok := values[s.column]; ok {
			continue
		}
		v, err := f.Numeric(s.column)
		if err != nil {
			return fmt.Errorf("GroupedAggregator: %w", err)
		}
		values[s.column] = v
	}

	g.Groups = make(map[string]nullableFloats, len(rows))
	for key, idx := range rows {
		agg := make(nullableFloats, len(specs))
		for j, s := range specs {
			col := values[s.column]
			present := make([]float64, 0, len(idx))
			for _, r := range idx {
				if !math.IsNaN(col[r]) {
					present = append(present, col[r])
				}
			}
			agg[j] = aggregators[s.fn](present)
		}
		g.Groups[key] = agg
	}
	g.Fitted = true
	return nil
}

func (g *GroupedAggregator) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	if !g.Fitted {
		return nil, fmt.Errorf("GroupedAggregator: %w", ErrNotFitted)
	}
	if err := requireColumns("GroupedAggregator", f, g.GroupByCol); err != nil {
		return nil, err
	}
	if err := requireAbsent("GroupedAggregator", f, g.OutputCols...); err != nil {
		return nil, err
	}
	keys, err := f.Keys(g.GroupByCol)
	if err != nil {
		return nil, err
	}
	out := f.Copy()
	for j, name := range g.OutputCols {
		col := make([]float64, len(keys))
		for i, k := range keys {
			agg, ok := g.Groups[k]
			if !ok {
				col[i] = math.NaN()
				continue
			}
			col[i] = agg[j]
		}
		if err := out.SetNumeric(name, datastore.Float, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// pairwise holds the params shared by the two-column arithmetic steps.
type pairwise struct {
	InputCols []string `yaml:"input_cols" json:"input_cols" validate:"required,min=1"`
	OutputCol string   `yaml:"output_col" json:"output_col" validate:"required"`
	ColA      string   `yaml:"col_a" json:"col_a" validate:"required"`
	ColB      string   `yaml:"col_b" json:"col_b" validate:"required"`
}

func (p *pairwise) apply(step string, f *datastore.Frame, op func(a, b float64) float64) (*datastore.Frame, error) {
	if err := requireColumns(step, f, append(append([]string(nil), p.InputCols...), p.ColA, p.ColB)...); err != nil {
		return nil, err
	}
	if err := requireAbsent(step, f, p.OutputCol); err != nil {
		return nil, err
	}
	a, err := f.Numeric(p.ColA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	b, err := f.Numeric(p.ColB)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	res := make([]float64, len(a))
	for i := range a {
		res[i] = op(a[i], b[i])
	}
	kind := datastore.Float
	ka, _ := f.Kind(p.ColA)
	kb, _ := f.Kind(p.ColB)
	if ka == datastore.Int && kb == datastore.Int {
		kind = datastore.Int
	}
	out := f.Copy()
	if err := out.SetNumeric(p.OutputCol, kind, res); err != nil {
		return nil, err
	}
	return out, nil
}

// ColumnSubtractor writes col_a - col_b into output_col. It is stateless.
type ColumnSubtractor struct {
	pairwise `yaml:",inline"`
}

func (c *ColumnSubtractor) Fit(f *datastore.Frame) error {
	return requireColumns("ColumnSubtractor", f, c.InputCols...)
}

func (c *ColumnSubtractor) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	return c.apply("ColumnSubtractor", f, func(a, b float64) float64 { return a - b })
}

// AbsoluteDifference writes |col_a - col_b| into output_col. It is stateless.
type AbsoluteDifference struct {
	pairwise `yaml:",inline"`
}

func (d *AbsoluteDifference) Fit(f *datastore.Frame) error {
	return requireColumns("AbsoluteDifference", f, d.InputCols...)
}

func (d *AbsoluteDifference) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	return d.apply("AbsoluteDifference", f, func(a, b float64) float64 { return math.Abs(a - b) })
}

// ThresholdBinarizer flags rows whose input value is strictly greater than
// the threshold with 1, everything else (missing values included) with 0.
type ThresholdBinarizer struct {
	InputCol  string   `yaml:"input_col" json:"input_col" validate:"required"`
	OutputCol string   `yaml:"output_col" json:"output_col" validate:"required"`
	Threshold *float64 `yaml:"threshold" json:"threshold" validate:"required"`
}

func (t *ThresholdBinarizer) Fit(f *datastore.Frame) error {
	return requireColumns("ThresholdBinarizer", f, t.InputCol)
}

func (t *ThresholdBinarizer) Transform(f *datastore.Frame) (*datastore.Frame, error) {
	if err := requireColumns("ThresholdBinarizer", f, t.InputCol); err != nil {
		return nil, err
	}
	if err := requireAbsent("ThresholdBinarizer", f, t.OutputCol); err != nil {
		return nil, err
	}
	vals, err := f.Numeric(t.InputCol)
	if err != nil {
		return nil, fmt.Errorf("ThresholdBinarizer: %w", err)
	}
	flags := make([]float64, len(vals))
	for i, v := range vals {
		if v > *t.Threshold {
			flags[i] = 1
		}
	}
	out := f.Copy()
	if err := out.SetNumeric(t.OutputCol, datastore.Int, flags); err != nil {
		return nil, err
	}
	return out, nil
}

func dropNaN(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// nullableFloats encodes NaN as JSON null.
type nullableFloats []float64

func (n nullableFloats) MarshalJSON() ([]byte, error) {
	raw := make([]*float64, len(n))
	for i, v := range n {
		if math.IsNaN(v) {
			continue
		}
		v := v
		raw[i] = &v
	}
	return json.Marshal(raw)
}

func (n *nullableFloats) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(nullableFloats, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*n = out
	return nil
}
