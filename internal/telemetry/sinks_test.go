package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/liangyou/appgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSinkWritesStructuredRecord(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := NewLogSink(slog.New(slog.NewJSONHandler(buf, nil)))

	event, _ := ForState(models.StateCritical, "2.0.0")
	sink.Emit(context.Background(), event)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "telemetry event", record["msg"])
	assert.Equal(t, ActionShowCritical, record["action"])
	assert.Equal(t, "2.0.0", record["label"])
	assert.Equal(t, "critical", record["state"])
}

func TestPrometheusSinkCountsEventsAndState(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	event, _ := ForState(models.StateOptional, "2.0.0")
	sink.Emit(context.Background(), event)
	sink.Emit(context.Background(), event)
	sink.SetState(models.StateOptional)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(CategoryUpdatePrompt, ActionShowOptional, "2.0.0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.state.WithLabelValues("optional")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.state.WithLabelValues("idle")))

	_, err = NewPrometheusSink(reg)
	assert.Error(t, err, "duplicate registration must fail")
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestKafkaSinkDeliversOnClose(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(writer, nil)

	event, _ := ForState(models.StateMaintenance, "")
	sink.Emit(context.Background(), event)
	require.NoError(t, sink.Close())

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.msgs, 1)
	assert.True(t, writer.closed)
	assert.Equal(t, []byte(CategoryAppStatus), writer.msgs[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Nil(t, decoded.Label)
}

func TestKafkaSinkIgnoresEventsAfterClose(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(writer, nil)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	event, _ := ForState(models.StateCritical, "1.0")
	sink.Emit(context.Background(), event)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Empty(t, writer.msgs)
}

func TestKafkaSinkWriteFailureIsLogged(t *testing.T) {
	buf := &bytes.Buffer{}
	writer := &fakeWriter{err: errors.New("broker down")}
	sink := NewKafkaSinkWithWriter(writer, slog.New(slog.NewTextHandler(buf, nil)))

	event, _ := ForState(models.StateCritical, "1.0")
	sink.Emit(context.Background(), event)
	require.NoError(t, sink.Close())

	assert.Contains(t, buf.String(), "telemetry kafka write failed")
}
