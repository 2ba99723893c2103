package datastore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/your-org/colony-strength/pkg/logger"
)

// ErrUnsupportedSource is returned when a loader is configured with an unknown source type.
var ErrUnsupportedSource = errors.New("unsupported data source type")

// LoadFunc reads a whole data source into a Frame.
type LoadFunc func(path string) (*Frame, error)

var strategies = map[string]LoadFunc{
	"csv": LoadCSV,
}

// SupportedSources returns the registered source types, sorted.
func SupportedSources() []string {
	types := make([]string, 0, len(strategies))
	for t := range strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Loader loads the training dataset from the configured source.
type Loader struct {
	sourceType string
	path       string
}

// NewLoader creates a Loader for the given source type and location.
func NewLoader(sourceType, path string) *Loader {
	logger.Debugf("DataLoader initialized (type=%s, path=%s)", sourceType, path)
	return &Loader{sourceType: sourceType, path: path}
}

// Load dispatches to the strategy registered for the source type.
func (l *Loader) Load() (*Frame, error) {
	load, ok := strategies[l.sourceType]
	if !ok {
		err := fmt.Errorf("%w: %s. Supported types are: %v", ErrUnsupportedSource, l.sourceType, SupportedSources())
		logger.Error(err.Error())
		return nil, err
	}
	return load(l.path)
}

// LoadCSV reads an entire CSV file with a header row into memory.
func LoadCSV(filePath string) (*Frame, error) {
	logger.Infof("Loading data from CSV at %s", filePath)
	file, err := os.Open(filePath)
	if err != nil {
		logger.Errorf("File not found at path: %s", filePath)
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer file.Close()

	f, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	logger.Infof("Loaded %d rows and %d columns from %s", f.Len(), len(f.Columns()), filePath)
	return f, nil
}

// ReadCSV parses CSV data with a header row. Column kinds are inferred:
// integers, then floats, then strings. Empty cells are missing values.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return NewFrame(0), nil // Empty file is okay
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		if h == "" {
			return nil, errors.New("csv header contains an empty column name")
		}
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("csv header contains duplicate column %q", h)
		}
		seen[h] = struct{}{}
	}

	cells := make([][]string, len(header))
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		for j := range header {
			cells[j] = append(cells[j], strings.TrimSpace(record[j]))
		}
		rows++
	}

	f := NewFrame(rows)
	for j, name := range header {
		if err := f.setInferred(name, cells[j]); err != nil {
			return nil, err
		}
	}
	return f, nil
}
