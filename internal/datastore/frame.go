package datastore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrNotNumeric is returned when a numeric operation meets a String column.
var ErrNotNumeric = errors.New("column is not numeric")

// Kind is the storage type of a Frame column.
type Kind int

const (
	// Float columns hold float64 values, NaN marks a missing value.
	Float Kind = iota
	// Int columns hold integral values stored as float64.
	Int
	// String columns hold raw strings, "" marks a missing value.
	String
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float64"
	case Int:
		return "int64"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// column is a single named column. Exactly one of nums/strs is used.
type column struct {
	name string
	kind Kind
	nums []float64
	strs []string
}

func (c *column) clone() *column {
	out := &column{name: c.name, kind: c.kind}
	if c.nums != nil {
		out.nums = append([]float64(nil), c.nums...)
	}
	if c.strs != nil {
		out.strs = append([]string(nil), c.strs...)
	}
	return out
}

// Frame is a column-oriented table of sensor readings.
// Every row carries a record id (its index) that survives filtering, so
// predictions can always be matched back to the input rows.
type Frame struct {
	index  []int
	cols   []*column
	byName map[string]int
}

// NewFrame creates an empty frame with n rows indexed 0..n-1.
func NewFrame(n int) *Frame {
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	return NewFrameWithIndex(index)
}

// NewFrameWithIndex creates an empty frame with the given record ids.
func NewFrameWithIndex(index []int) *Frame {
	return &Frame{
		index:  append([]int(nil), index...),
		byName: make(map[string]int),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.index)
}

// Index returns a copy of the record ids in row order.
func (f *Frame) Index() []int {
	return append([]int(nil), f.index...)
}

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.name
	}
	return names
}

// Has reports whether the frame contains the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Kind returns the kind of the named column.
func (f *Frame) Kind(name string) (Kind, bool) {
	i, ok := f.byName[name]
	if !ok {
		return 0, false
	}
	return f.cols[i].kind, true
}

// Missing returns the names in required that are not columns of f, in order.
func (f *Frame) Missing(required ...string) []string {
	var missing []string
	for _, name := range required {
		if !f.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Numeric returns a copy of a numeric column.
func (f *Frame) Numeric(name string) ([]float64, error) {
	i, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	c := f.cols[i]
	if c.kind == String {
		return nil, fmt.Errorf("%w: %q has kind %s", ErrNotNumeric, name, c.kind)
	}
	return append([]float64(nil), c.nums...), nil
}

// Keys returns the values of any column rendered as strings. Numeric
// values are formatted without trailing zeros and NaN renders as "".
// It is used for group-by keys and class labels.
func (f *Frame) Keys(name string) ([]string, error) {
	i, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	c := f.cols[i]
	if c.kind == String {
		return append([]string(nil), c.strs...), nil
	}
	keys := make([]string, len(c.nums))
	for j, v := range c.nums {
		keys[j] = FormatValue(v)
	}
	return keys, nil
}

// FormatValue renders a numeric cell the way Keys does.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetNumeric adds or replaces a numeric column.
func (f *Frame) SetNumeric(name string, kind Kind, values []float64) error {
	if kind == String {
		return fmt.Errorf("SetNumeric: column %q cannot have kind %s", name, kind)
	}
	if len(values) != f.Len() {
		return fmt.Errorf("column %q has %d values, frame has %d rows", name, len(values), f.Len())
	}
	f.set(&column{name: name, kind: kind, nums: append([]float64(nil), values...)})
	return nil
}

// SetStrings adds or replaces a string column.
func (f *Frame) SetStrings(name string, values []string) error {
	if len(values) != f.Len() {
		return fmt.Errorf("column %q has %d values, frame has %d rows", name, len(values), f.Len())
	}
	f.set(&column{name: name, kind: String, strs: append([]string(nil), values...)})
	return nil
}

func (f *Frame) set(c *column) {
	if i, ok := f.byName[c.name]; ok {
		f.cols[i] = c
		return
	}
	f.byName[c.name] = len(f.cols)
	f.cols = append(f.cols, c)
}

// Copy returns a deep copy of the frame.
func (f *Frame) Copy() *Frame {
	out := NewFrameWithIndex(f.index)
	for _, c := range f.cols {
		out.set(c.clone())
	}
	return out
}

// Drop returns a copy of the frame without the named columns.
// Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[n] = struct{}{}
	}
	out := NewFrameWithIndex(f.index)
	for _, c := range f.cols {
		if _, ok := skip[c.name]; ok {
			continue
		}
		out.set(c.clone())
	}
	return out
}

// Select returns a copy holding only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	if missing := f.Missing(names...); len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %v", missing)
	}
	out := NewFrameWithIndex(f.index)
	for _, n := range names {
		out.set(f.cols[f.byName[n]].clone())
	}
	return out, nil
}

// Filter returns the rows where mask is true. Record ids are preserved.
func (f *Frame) Filter(mask []bool) (*Frame, error) {
	if len(mask) != f.Len() {
		return nil, fmt.Errorf("mask has %d entries, frame has %d rows", len(mask), f.Len())
	}
	rows := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			rows = append(rows, i)
		}
	}
	return f.Take(rows), nil
}

// Take returns the rows at the given positions, in that order.
func (f *Frame) Take(rows []int) *Frame {
	index := make([]int, len(rows))
	for i, r := range rows {
		index[i] = f.index[r]
	}
	out := NewFrameWithIndex(index)
	for _, c := range f.cols {
		nc := &column{name: c.name, kind: c.kind}
		if c.kind == String {
			nc.strs = make([]string, len(rows))
			for i, r := range rows {
				nc.strs[i] = c.strs[r]
			}
		} else {
			nc.nums = make([]float64, len(rows))
			for i, r := range rows {
				nc.nums[i] = c.nums[r]
			}
		}
		out.set(nc)
	}
	return out
}

// Matrix returns the named numeric columns as a row-major matrix.
func (f *Frame) Matrix(names ...string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for j, n := range names {
		v, err := f.Numeric(n)
		if err != nil {
			return nil, err
		}
		cols[j] = v
	}
	out := make([][]float64, f.Len())
	for i := range out {
		row := make([]float64, len(names))
		for j := range names {
			row[j] = cols[j][i]
		}
		out[i] = row
	}
	return out, nil
}

// FromRecords builds a frame from JSON-like records, one map per row.
// Columns are sorted by name. A column holding any string becomes a String
// column; a column of integral numbers becomes Int; anything else numeric is
// Float. Absent keys and nulls are missing values.
func FromRecords(records []map[string]any) (*Frame, error) {
	names := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			names[k] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(names))
	for k := range names {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	f := NewFrame(len(records))
	for _, name := range ordered {
		raw := make([]string, len(records))
		for i, rec := range records {
			v, ok := rec[name]
			if !ok || v == nil {
				continue
			}
			s, err := scalarString(v)
			if err != nil {
				return nil, fmt.Errorf("record %d, field %q: %w", i, name, err)
			}
			raw[i] = s
		}
		if err := f.setInferred(name, raw); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case fmt.Stringer:
		// json.Number and friends
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported non-scalar value of type %T", v)
	}
}

// setInferred stores raw cells as the narrowest kind that parses them all.
func (f *Frame) setInferred(name string, raw []string) error {
	kind := Int
	for _, s := range raw {
		if s == "" {
			continue
		}
		if kind == Int {
			if _, err := strconv.ParseInt(s, 10, 64); err == nil {
				continue
			}
			kind = Float
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			kind = String
			break
		}
	}
	if kind == String {
		return f.SetStrings(name, raw)
	}

	nums := make([]float64, len(raw))
	for i, s := range raw {
		if s == "" {
			nums[i] = math.NaN()
			// A column with gaps cannot stay integral.
			kind = Float
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		nums[i] = v
	}
	return f.SetNumeric(name, kind, nums)
}
