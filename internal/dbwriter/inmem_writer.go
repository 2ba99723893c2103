package dbwriter

import "sync"

// InMemWriter is an in-memory implementation of the DBWriter interface for testing.
type InMemWriter struct {
	mu       sync.RWMutex
	Records  []PredictionRecord
	IsClosed bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{Records: make([]PredictionRecord, 0)}
}

// SavePredictions appends the records to the in-memory slice.
func (w *InMemWriter) SavePredictions(records []PredictionRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Records = append(w.Records, records...)
}

// Snapshot returns a copy of the stored records.
func (w *InMemWriter) Snapshot() []PredictionRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]PredictionRecord(nil), w.Records...)
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}

// Clear resets the in-memory slice.
func (w *InMemWriter) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Records = make([]PredictionRecord, 0)
	w.IsClosed = false
}
