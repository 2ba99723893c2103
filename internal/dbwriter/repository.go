package dbwriter

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LabelShare はモデルバージョンごとのラベル分布の1行です。
type LabelShare struct {
	ModelVersion string          `db:"model_version"`
	Label        string          `db:"label"`
	Count        int64           `db:"count"`
	Share        decimal.Decimal `db:"-"`
}

// Repository reads the prediction log back.
type Repository struct {
	db Pool
}

// NewRepository creates a new Repository.
func NewRepository(db Pool) *Repository {
	return &Repository{db: db}
}

// LabelDistribution counts the labels served since the given time, per model
// version. Share is the fraction of the version's predictions, rounded to 4
// places.
func (r *Repository) LabelDistribution(ctx context.Context, since time.Time) ([]LabelShare, error) {
	rows, err := r.db.Query(ctx, `
        SELECT model_version, label, COUNT(*) AS count
        FROM prediction_log
        WHERE time >= $1
        GROUP BY model_version, label
        ORDER BY model_version, label`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query label distribution: %w", err)
	}
	defer rows.Close()

	var out []LabelShare
	totals := make(map[string]int64)
	for rows.Next() {
		var s LabelShare
		if err := rows.Scan(&s.ModelVersion, &s.Label, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label distribution: %w", err)
		}
		totals[s.ModelVersion] += s.Count
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		total := totals[out[i].ModelVersion]
		out[i].Share = decimal.NewFromInt(out[i].Count).DivRound(decimal.NewFromInt(total), 4)
	}
	return out, nil
}

// FetchPredictions returns the predictions logged in [start, end), oldest first.
func (r *Repository) FetchPredictions(ctx context.Context, start, end time.Time) ([]PredictionRecord, error) {
	rows, err := r.db.Query(ctx, `
        SELECT time, request_id, record_id, label, model_version
        FROM prediction_log
        WHERE time >= $1 AND time < $2
        ORDER BY time ASC, request_id, record_id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []PredictionRecord
	for rows.Next() {
		var p PredictionRecord
		if err := rows.Scan(&p.Time, &p.RequestID, &p.RecordID, &p.Label, &p.ModelVersion); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
