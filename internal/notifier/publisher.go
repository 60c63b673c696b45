package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/model"
)

const (
	eventStreamName   = "EVENTS"
	eventSubjects     = "event.*"
	refreshStreamName = "REFRESH"
	refreshSubjects   = "refresh.*"
)

// EventPublisher publishes emitted events to JetStream so downstream
// consumers (webhook relays, the push transport) can subscribe without
// polling the event log.
type EventPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewEventPublisher creates the publisher and its stream
func NewEventPublisher(logger *zap.Logger, js nats.JetStreamContext) (*EventPublisher, error) {
	if err := ensureStream(js, eventStreamName, eventSubjects); err != nil {
		return nil, err
	}
	return &EventPublisher{logger: logger, js: js}, nil
}

// PublishEvent implements engine.Publisher
func (p *EventPublisher) PublishEvent(ctx context.Context, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish("event."+string(event.Severity), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published",
		zap.String("event_id", event.ID),
		zap.String("severity", string(event.Severity)))
	return nil
}

func ensureStream(js nats.JetStreamContext, name, subjects string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subjects},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}
