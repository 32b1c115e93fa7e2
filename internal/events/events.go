package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// EventType names what happened to a case
type EventType string

const (
	CaseAdded         EventType = "case.added"
	CaseUpdated       EventType = "case.updated"
	CaseStatusChanged EventType = "case.status_changed"
)

// CaseEvent is published whenever ingestion or a user changes a case
type CaseEvent struct {
	Type            EventType         `json:"type"`
	IRFamilyID      string            `json:"ir_family_id"`
	ReportID        int64             `json:"report_id"`
	ArchivedVersion int               `json:"archived_version"`
	SampleType      domain.SampleType `json:"sample_type"`
	CaseStatus      domain.CaseStatus `json:"case_status,omitempty"`
	User            string            `json:"user,omitempty"`
	RunID           string            `json:"run_id,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// Publisher sends case events downstream
type Publisher interface {
	Publish(ctx context.Context, event CaseEvent) error
	Close() error
}

// messageWriter is the part of kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes case events to a topic keyed by IR family, so the
// events of one case stay ordered on a partition
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaPublisher creates a publisher for the configured brokers
func NewKafkaPublisher(config domain.EventsConfig, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(writer, config.Topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event CaseEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode case event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.IRFamilyID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithFields(logrus.Fields{
			"topic":        p.topic,
			"event_type":   event.Type,
			"ir_family_id": event.IRFamilyID,
			"error":        err,
		}).Error("Failed to publish case event")
		return fmt.Errorf("failed to publish %s for %s: %w", event.Type, event.IRFamilyID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type":   event.Type,
		"ir_family_id": event.IRFamilyID,
	}).Debug("Published case event")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CaseEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are configured
func NewPublisher(config domain.EventsConfig, logger *logrus.Logger) Publisher {
	if len(config.Brokers) == 0 {
		logger.Info("No Kafka brokers configured, case events are disabled")
		return NopPublisher{}
	}
	if config.Topic == "" {
		config.Topic = "gel2mdt.case-events"
	}
	return NewKafkaPublisher(config, logger)
}
