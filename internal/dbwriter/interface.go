package dbwriter

// DBWriter defines the interface for writing the prediction log.
// This allows for mocking in tests.
type DBWriter interface {
	SavePredictions(records []PredictionRecord)
	Close()
}
