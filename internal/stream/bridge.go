package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/internal/model"
	"github.com/your-org/colony-strength/pkg/logger"
)

// Config configures the MQTT bridge. The bridge is disabled when Broker is empty.
type Config struct {
	Broker        string `envconfig:"MQTT_BROKER"`
	ClientID      string `envconfig:"MQTT_CLIENT_ID" default:"colony-strength"`
	Username      string `envconfig:"MQTT_USERNAME"`
	Password      string `envconfig:"MQTT_PASSWORD"`
	QoS           byte   `envconfig:"MQTT_QOS" default:"1"`
	ReadingsTopic string `envconfig:"MQTT_READINGS_TOPIC" default:"hives/+/readings"`
	// ResultTopic is a format string receiving the hive id.
	ResultTopic string `envconfig:"MQTT_RESULT_TOPIC" default:"hives/%s/strength"`
	// HiveIDField is filled from the topic when a reading does not carry it.
	HiveIDField string `envconfig:"MQTT_HIVE_ID_FIELD" default:"hive_id"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// Predictor is the served pipeline.
type Predictor interface {
	Predict(ctx context.Context, f *datastore.Frame) (*model.Predictions, error)
	Version() string
}

// PredictorFunc returns the pipeline to use for one message.
type PredictorFunc func(ctx context.Context) (Predictor, error)

// Result is published for every processed message.
type Result struct {
	HiveID       string   `json:"hive_id"`
	Predictions  []string `json:"predictions"`
	RecordIDs    []int    `json:"record_ids"`
	ModelVersion string   `json:"model_version"`
}

// Bridge subscribes to readings, predicts and publishes results.
type Bridge struct {
	transport Transport
	predictor PredictorFunc
	writer    dbwriter.DBWriter
	cfg       Config
}

// NewBridge creates a bridge. writer may be nil.
func NewBridge(t Transport, predictor PredictorFunc, writer dbwriter.DBWriter, cfg Config) *Bridge {
	return &Bridge{transport: t, predictor: predictor, writer: writer, cfg: cfg}
}

// Run processes messages until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	msgs, err := b.transport.Subscribe(ctx, b.cfg.ReadingsTopic)
	if err != nil {
		return err
	}
	logger.Infof("Stream bridge listening on %s", b.cfg.ReadingsTopic)
	for msg := range msgs {
		if err := b.Handle(ctx, msg); err != nil {
			logger.Warnf("Failed to process message on %s: %v", msg.Topic, err)
		}
	}
	return nil
}

// Handle predicts one message and publishes the result.
func (b *Bridge) Handle(ctx context.Context, msg Message) error {
	if !TopicMatches(b.cfg.ReadingsTopic, msg.Topic) {
		return fmt.Errorf("topic %q does not match %q", msg.Topic, b.cfg.ReadingsTopic)
	}
	hiveID := wildcardSegment(b.cfg.ReadingsTopic, msg.Topic)
	if hiveID == "" {
		return fmt.Errorf("no hive id in topic %q", msg.Topic)
	}
	records, err := DecodeReadings(msg.Payload)
	if err != nil {
		return err
	}
	if b.cfg.HiveIDField != "" {
		for _, r := range records {
			if _, ok := r[b.cfg.HiveIDField]; !ok {
				r[b.cfg.HiveIDField] = hiveID
			}
		}
	}
	frame, err := datastore.FromRecords(records)
	if err != nil {
		return err
	}

	p, err := b.predictor(ctx)
	if err != nil {
		return err
	}
	preds, err := p.Predict(ctx, frame)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	if b.writer != nil && preds.Len() > 0 {
		requestID := "mqtt-" + uuid.NewString()
		now := time.Now().UTC()
		recs := make([]dbwriter.PredictionRecord, preds.Len())
		for i := range recs {
			recs[i] = dbwriter.PredictionRecord{
				Time: now, RequestID: requestID, RecordID: preds.RecordIDs[i],
				Label: preds.Labels[i], ModelVersion: p.Version(),
			}
		}
		b.writer.SavePredictions(recs)
	}

	payload, err := json.Marshal(Result{
		HiveID:       hiveID,
		Predictions:  preds.Labels,
		RecordIDs:    preds.RecordIDs,
		ModelVersion: p.Version(),
	})
	if err != nil {
		return err
	}
	topic := b.cfg.ResultTopicFor(hiveID)
	if err := b.transport.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	logger.Debugf("Published %d predictions for hive %s", preds.Len(), hiveID)
	return nil
}

// DecodeReadings accepts a single reading object, an array of readings or
// an {"instances": [...]} document.
func DecodeReadings(payload []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var records []map[string]any
	if trimmed[0] == '[' {
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("invalid readings: %w", err)
		}
	} else {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("invalid reading: %w", err)
		}
		if inst, ok := obj["instances"]; ok && len(obj) == 1 {
			list, ok := inst.([]any)
			if !ok {
				return nil, fmt.Errorf("instances must be a list")
			}
			for i, v := range list {
				rec, ok := v.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("instance %d is not an object", i)
				}
				records = append(records, rec)
			}
		} else {
			records = []map[string]any{obj}
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no readings in payload")
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("reading %d is null", i)
		}
	}
	return records, nil
}

// ResultTopicFor formats the result topic of a hive.
func (c Config) ResultTopicFor(hiveID string) string {
	if !strings.Contains(c.ResultTopic, "%s") {
		return c.ResultTopic
	}
	return fmt.Sprintf(c.ResultTopic, hiveID)
}
