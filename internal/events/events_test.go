package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/domain"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, "cases", quietLogger())

	err := p.Publish(context.Background(), CaseEvent{
		Type:            CaseAdded,
		IRFamilyID:      "1234-2",
		ReportID:        7,
		ArchivedVersion: 1,
		SampleType:      domain.RareDisease,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "1234-2", string(msg.Key))
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, "case.added", string(msg.Headers[0].Value))

	var decoded CaseEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(7), decoded.ReportID)
	assert.False(t, decoded.OccurredAt.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, "cases", quietLogger())

	err := p.Publish(context.Background(), CaseEvent{Type: CaseUpdated, IRFamilyID: "1-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewPublisher_NoBrokers(t *testing.T) {
	p := NewPublisher(domain.EventsConfig{}, quietLogger())
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), CaseEvent{}))

	p = NewPublisher(domain.EventsConfig{Brokers: []string{"localhost:9092"}}, quietLogger())
	kp, ok := p.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, "gel2mdt.case-events", kp.topic)
	require.NoError(t, p.Close())
}
