// Package csvwriter appends served predictions to a CSV file. It is the
// prediction log for deployments without a database.
package csvwriter

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/your-org/colony-strength/internal/dbwriter"
)

// TimeLayout is the format of the time column.
const TimeLayout = "2006-01-02 15:04:05.999999-07"

// Header is the first line of every prediction CSV.
var Header = []string{"time", "request_id", "record_id", "label", "model_version"}

// Row renders one prediction in Header order.
func Row(r dbwriter.PredictionRecord) []string {
	return []string{
		r.Time.UTC().Format(TimeLayout),
		r.RequestID,
		strconv.Itoa(r.RecordID),
		r.Label,
		r.ModelVersion,
	}
}

// Writer is a dbwriter.DBWriter backed by a CSV file.
type Writer struct {
	file   *os.File
	writer *csv.Writer
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewWriter opens filePath for appending. The header is written when the
// file is empty.
func NewWriter(filePath string, logger *zap.Logger) (*Writer, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat CSV file: %w", err)
	}

	w := &Writer{file: file, writer: csv.NewWriter(file), logger: logger}
	if info.Size() == 0 {
		if err := w.writer.Write(Header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		w.writer.Flush()
	}
	logger.Info("Prediction log CSV opened", zap.String("path", filePath))
	return w, nil
}

// SavePredictions appends records and flushes them to the file.
func (w *Writer) SavePredictions(records []dbwriter.PredictionRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("Dropping predictions, CSV writer is closed", zap.Int("count", len(records)))
		return
	}
	for _, r := range records {
		if err := w.writer.Write(Row(r)); err != nil {
			w.logger.Error("Failed to write prediction to CSV", zap.Error(err))
			return
		}
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.logger.Error("Failed to flush prediction CSV", zap.Error(err))
	}
}

// Close flushes and closes the file.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.writer.Flush()
	if err := w.file.Close(); err != nil {
		w.logger.Error("Failed to close prediction CSV", zap.Error(err))
	}
}
