package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/pkg/core"
)

var _ Publisher = (*KafkaPublisher)(nil)
var _ Publisher = Multi(nil)

// mockWriter simulates the kafka-go Writer for unit testing.
type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type publishFunc func(ctx context.Context, e core.Event) error

func (f publishFunc) PublishEvent(ctx context.Context, e core.Event) error { return f(ctx, e) }

func created() core.Event {
	rec := core.LocationRecord{ID: "loc-7", Latitude: 1, Longitude: 2, ParkingType: core.ParkingStreet}
	return core.Event{
		Type:       core.EventCreated,
		LocationID: "loc-7",
		Time:       time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC),
		Record:     &rec,
	}
}

func TestKafkaPublisher_WritesKeyedJSON(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaPublisher(w, nil)

	require.NoError(t, p.PublishEvent(context.Background(), created()))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "loc-7", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte("location_created")}}, msg.Headers)

	var decoded core.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, core.EventCreated, decoded.Type)
	require.NotNil(t, decoded.Record)
	assert.Equal(t, "loc-7", decoded.Record.ID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisher(&mockWriter{err: boom}, nil)

	err := p.PublishEvent(context.Background(), created())

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "location_created")
}

func TestNewKafka_Validation(t *testing.T) {
	_, err := NewKafka(config.KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)

	_, err = NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "parking-events"}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestMulti_TriesEveryPublisher(t *testing.T) {
	var got []string
	first := errors.New("first")
	m := Multi{
		publishFunc(func(_ context.Context, e core.Event) error {
			got = append(got, "a")
			return first
		}),
		nil,
		publishFunc(func(_ context.Context, e core.Event) error {
			got = append(got, "b")
			return nil
		}),
	}

	err := m.PublishEvent(context.Background(), created())

	assert.ErrorIs(t, err, first)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.NoError(t, Multi{}.PublishEvent(context.Background(), created()))
}
