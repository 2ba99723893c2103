// Package dbwriter persists served predictions to PostgreSQL in batches.
package dbwriter

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PredictionRecord はデータベースに保存する予測結果の構造体です。
type PredictionRecord struct {
	Time         time.Time `db:"time"`
	RequestID    string    `db:"request_id"`
	RecordID     int       `db:"record_id"`
	Label        string    `db:"label"`
	ModelVersion string    `db:"model_version"`
}

// Config controls batching of the writer.
type Config struct {
	BatchSize            int `envconfig:"DB_WRITER_BATCH_SIZE" default:"100"`
	WriteIntervalSeconds int `envconfig:"DB_WRITER_INTERVAL_SECONDS" default:"1"`
}

var predictionColumns = []string{"time", "request_id", "record_id", "label", "model_version"}

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Close()
}

// PostgresWriter はprediction_logテーブルへの書き込みを担当します。
type PostgresWriter struct {
	pool         Pool
	logger       *zap.Logger
	config       Config
	buffer       []PredictionRecord
	bufferMutex  sync.Mutex
	closed       bool
	flushTicker  *time.Ticker
	shutdownChan chan struct{}
	closeOnce    sync.Once
}

// NewPostgresWriter は新しいPostgresWriterインスタンスを作成します。
// プールがnilの場合は何もしないライターを返します。
func NewPostgresWriter(pool Pool, writerConfig Config, logger *zap.Logger) DBWriter {
	if pool == nil {
		logger.Info("Database pool is nil, prediction log is disabled.")
		return NewDummyWriter(logger)
	}

	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("WriteIntervalSeconds is zero or negative, defaulting to 1s.", zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}

	writer := &PostgresWriter{
		pool:         pool,
		logger:       logger,
		config:       writerConfig,
		buffer:       make([]PredictionRecord, 0, writerConfig.BatchSize),
		flushTicker:  time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second),
		shutdownChan: make(chan struct{}),
	}
	go writer.run()
	logger.Info("Started prediction log writer", zap.Int("batchSize", writerConfig.BatchSize))
	return writer
}

// Close はバッファをフラッシュし、データベース接続プールをクローズします。
func (w *PostgresWriter) Close() {
	w.closeOnce.Do(func() {
		w.logger.Info("Closing prediction log writer...")
		w.bufferMutex.Lock()
		w.closed = true
		w.bufferMutex.Unlock()
		close(w.shutdownChan)
		w.flushTicker.Stop()

		// Final flush
		w.flushBuffer()

		w.pool.Close()
		w.logger.Info("Prediction log connection pool closed")
	})
}

func (w *PostgresWriter) run() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flushBuffer()
		case <-w.shutdownChan:
			return
		}
	}
}

// SavePredictions は予測結果をバッファに追加します。
// Close後に渡された予測結果は警告を出して破棄します。
func (w *PostgresWriter) SavePredictions(records []PredictionRecord) {
	if len(records) == 0 {
		return
	}
	w.bufferMutex.Lock()
	if w.closed {
		w.bufferMutex.Unlock()
		w.logger.Warn("Dropping predictions, prediction log writer is closed", zap.Int("count", len(records)))
		return
	}
	w.buffer = append(w.buffer, records...)
	shouldFlush := len(w.buffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffer()
	}
}

func (w *PostgresWriter) flushBuffer() {
	w.bufferMutex.Lock()
	defer w.bufferMutex.Unlock()

	if len(w.buffer) == 0 {
		return
	}
	w.batchInsertPredictions(context.Background(), w.buffer)
	w.buffer = w.buffer[:0]
}

func (w *PostgresWriter) batchInsertPredictions(ctx context.Context, records []PredictionRecord) {
	w.logger.Debug("Flushing predictions", zap.Int("count", len(records)))
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"prediction_log"},
		predictionColumns,
		pgx.CopyFromRows(toPredictionInterfaces(records)),
	)
	if err != nil {
		w.logger.Error("Failed to batch insert predictions", zap.Error(err), zap.Int("count", len(records)))
	}
}

func toPredictionInterfaces(records []PredictionRecord) [][]interface{} {
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{r.Time, r.RequestID, r.RecordID, r.Label, r.ModelVersion}
	}
	return rows
}
