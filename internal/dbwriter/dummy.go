package dbwriter

import "go.uber.org/zap"

// dummyWriter is a no-op implementation of the DBWriter interface.
// It is used when the database connection is not available.
type dummyWriter struct {
	logger *zap.Logger
}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter(l *zap.Logger) DBWriter {
	return &dummyWriter{logger: l}
}

// SavePredictions does nothing.
func (d *dummyWriter) SavePredictions(records []PredictionRecord) {
	d.logger.Debug("Dummy writer: SavePredictions called", zap.Int("count", len(records)))
}

// Close does nothing.
func (d *dummyWriter) Close() {
	d.logger.Debug("Dummy writer: Close called")
}
