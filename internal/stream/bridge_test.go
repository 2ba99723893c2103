package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/internal/model"
)

type mockPredictor struct {
	mock.Mock
}

func (m *mockPredictor) Predict(ctx context.Context, f *datastore.Frame) (*model.Predictions, error) {
	args := m.Called(ctx, f)
	p, _ := args.Get(0).(*model.Predictions)
	return p, args.Error(1)
}

func (m *mockPredictor) Version() string { return "model-1" }

func testConfig() Config {
	return Config{
		ReadingsTopic: "hives/+/readings",
		ResultTopic:   "hives/%s/strength",
		HiveIDField:   "hive_id",
	}
}

func TestDecodeReadings(t *testing.T) {
	single, err := DecodeReadings([]byte(`{"temperature": 34.5}`))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	list, err := DecodeReadings([]byte(`[{"temperature": 34.5}, {"temperature": 35}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	wrapped, err := DecodeReadings([]byte(`{"instances": [{"temperature": 34.5}]}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("34.5"), wrapped[0]["temperature"])

	for _, bad := range []string{``, `[]`, `[null]`, `{"instances": 3}`, `{"instances": [1]}`, `not json`} {
		_, err := DecodeReadings([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestBridge_PublishesPredictions(t *testing.T) {
	bus := NewInMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &mockPredictor{}
	p.On("Predict", mock.Anything, mock.MatchedBy(func(f *datastore.Frame) bool {
		ids, err := f.Numeric("hive_id")
		return err == nil && f.Len() == 2 && ids[0] == 7 && ids[1] == 7
	})).Return(&model.Predictions{Labels: []string{"Strong"}, RecordIDs: []int{1}}, nil)

	writer := dbwriter.NewInMemWriter()
	bridge := NewBridge(bus, func(context.Context) (Predictor, error) { return p, nil }, writer, testConfig())

	results, err := bus.Subscribe(ctx, "hives/+/strength")
	require.NoError(t, err)
	go func() { _ = bridge.Run(ctx) }()

	// Runがsubscribeするまで再送する
	var got Message
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, "hives/7/readings", []byte(`[{"temperature": 50}, {"temperature": 34}]`))
		select {
		case got = <-results:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hives/7/strength", got.Topic)
	assert.JSONEq(t, `{"hive_id": "7", "predictions": ["Strong"], "record_ids": [1], "model_version": "model-1"}`, string(got.Payload))

	records := writer.Snapshot()
	require.NotEmpty(t, records)
	assert.Equal(t, "Strong", records[0].Label)
	assert.Contains(t, records[0].RequestID, "mqtt-")
}

func TestBridge_HandleErrors(t *testing.T) {
	bus := NewInMemoryBus(1)
	p := &mockPredictor{}
	p.On("Predict", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	bridge := NewBridge(bus, func(context.Context) (Predictor, error) { return p, nil }, nil, testConfig())
	ctx := context.Background()

	assert.ErrorContains(t, bridge.Handle(ctx, Message{Topic: "other/topic/x", Payload: []byte(`{}`)}), "does not match")
	assert.Error(t, bridge.Handle(ctx, Message{Topic: "hives/1/readings", Payload: []byte(`nope`)}))
	assert.ErrorIs(t, bridge.Handle(ctx, Message{Topic: "hives/1/readings", Payload: []byte(`{"temperature": 34}`)}), assert.AnError)

	noModel := NewBridge(bus, func(context.Context) (Predictor, error) { return nil, assert.AnError }, nil, testConfig())
	assert.ErrorIs(t, noModel.Handle(ctx, Message{Topic: "hives/1/readings", Payload: []byte(`{"temperature": 34}`)}), assert.AnError)
}

func TestConfig(t *testing.T) {
	cfg := testConfig()
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "hives/3/strength", cfg.ResultTopicFor("3"))
	cfg.ResultTopic = "strength"
	assert.Equal(t, "strength", cfg.ResultTopicFor("3"))
}
