//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-etl/internal/adapter/owm"
	"github.com/couchcryptid/forecast-etl/internal/app"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testTopic = "test-cleaned-forecasts"

var fixturePath = filepath.Join("..", "pipeline", "testdata", "forecast_hanoi.json")

// publishedRow holds a deserialized message read from the topic.
type publishedRow struct {
	Row     domain.CleanedRow
	Key     string
	Headers map[string]string
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("forecast-etl-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader, n int) []publishedRow {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := make([]publishedRow, 0, n)
	for len(out) < n {
		msg, err := consumer.ReadMessage(readCtx)
		require.NoError(t, err, "read from topic")

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		var row domain.CleanedRow
		require.NoError(t, json.Unmarshal(msg.Value, &row), "unmarshal message")
		out = append(out, publishedRow{Row: row, Key: string(msg.Key), Headers: headers})
	}
	return out
}

// TestWriterPublishesCleanedRows verifies kafka.Writer delivers one message
// per cleaned row with the city|time key.
func TestWriterPublishesCleanedRows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}
	writer := kafka.NewWriter(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = writer.Close() })

	cleaned := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)
	ds := domain.CleanedDataset{
		City:    "Huế",
		Cleaned: cleaned,
		Rows: []domain.CleanedRow{
			{Time: time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC), Temperature: 30.5, Humidity: 70, Pressure: 1007, WindSpeed: 2.1, Description: "mây thưa", City: "Huế"},
		},
	}
	require.NoError(t, writer.Publish(ctx, ds))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{Brokers: []string{broker}, Topic: testTopic})
	t.Cleanup(func() { _ = consumer.Close() })

	got := readPublished(ctx, t, consumer, 1)
	assert.Equal(t, "Huế|2024-06-01 03:00:00", got[0].Key)
	assert.Equal(t, "Huế", got[0].Headers["city"])
	assert.Equal(t, cleaned.Format(time.RFC3339), got[0].Headers["cleaned_at"])
	assert.Equal(t, 30.5, got[0].Row.Temperature)
}

// TestPipelineEndToEnd runs a full cycle from a saved forecast through the
// cleaner and checks every cleaned row reaches the topic in time order.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		OWMAPIKey:    "unused",
		OWMBaseURL:   "http://127.0.0.1:1",
		OWMCacheSize: 1,
		DataDir:      t.TempDir(),
		Cities:       []config.City{{Name: "Hà Nội", Query: "Hanoi"}},
		DefaultCity:  "Hà Nội",
		KafkaEnabled: true,
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	a, err := app.New(ctx, cfg, owm.NewFileSource(fixturePath), clock, zap.NewNop(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	st, err := a.Runner.SubmitAndWait(ctx, "Hà Nội")
	require.NoError(t, err)
	require.Equal(t, pipeline.StateSucceeded, st.State, st.Message)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{Brokers: []string{broker}, Topic: testTopic})
	t.Cleanup(func() { _ = consumer.Close() })

	got := readPublished(ctx, t, consumer, st.CleanRows)
	require.Len(t, got, st.CleanRows)
	for i, p := range got {
		assert.Equal(t, "Hà Nội", p.Row.City)
		assert.Equal(t, "Hà Nội|"+p.Row.Time.Format(domain.TimeLayout), p.Key)
		assert.True(t, domain.TemperatureInBounds(p.Row.Temperature))
		if i > 0 {
			assert.True(t, p.Row.Time.After(got[i-1].Row.Time), "rows arrive in time order")
		}
	}
}
