package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Consumer reads parent lifecycle events from the listings service.
// "scheduled" events open slots for a freshly scheduled parent;
// "state-changed" events flip the cached bookable flag.
type Consumer struct {
	reader *kafka.Reader
	Logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewLogger()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, Logger: log}
}

// Start consumes parent events until ctx is cancelled, passing each decoded
// event to handler. Malformed messages are logged and skipped.
func (c *Consumer) Start(ctx context.Context, handler func(event models.ParentEvent)) {
	c.Logger.Info("KAFKA", "Parent lifecycle consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading parent event: %v", err))
			continue
		}

		var event models.ParentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal parent event: %v", err))
			continue
		}

		c.Logger.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("type=%s parent=%s/%s", event.Type, event.ParentKind, event.ParentID))
		handler(event)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
