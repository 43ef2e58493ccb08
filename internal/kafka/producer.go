package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Producer streams allocation outcomes to Kafka, one topic per outcome.
// Everything here runs after the transaction committed; a publish failure is
// the caller's to log, never to roll back.
type Producer struct {
	granted    *kafka.Writer
	waitlisted *kafka.Writer
	released   *kafka.Writer
	promoted   *kafka.Writer
	Logger     *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewLogger()
	}
	writer := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		})
	}
	return &Producer{
		granted:    writer(topics.Granted),
		waitlisted: writer(topics.Waitlisted),
		released:   writer(topics.Released),
		promoted:   writer(topics.Promoted),
		Logger:     log,
	}
}

func (p *Producer) publish(w *kafka.Writer, n models.AllocationNotification) error {
	msgBytes, err := json.Marshal(n)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", w.Topic, fmt.Sprintf("slot=%s requester=%s", n.SlotID, n.RequesterID))

	return w.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(n.SlotID),
			Value: msgBytes,
		},
	)
}

// PublishGranted streams a granted reservation to Kafka.
func (p *Producer) PublishGranted(n models.AllocationNotification) error {
	return p.publish(p.granted, n)
}

// PublishWaitlisted streams a deferred reservation to Kafka.
func (p *Producer) PublishWaitlisted(n models.AllocationNotification) error {
	return p.publish(p.waitlisted, n)
}

// PublishReleased streams a released booking to Kafka.
func (p *Producer) PublishReleased(n models.AllocationNotification) error {
	return p.publish(p.released, n)
}

// PublishPromoted streams a waitlist promotion to Kafka.
func (p *Producer) PublishPromoted(n models.AllocationNotification) error {
	return p.publish(p.promoted, n)
}

// Close shuts down all topic writers.
func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{p.granted, p.waitlisted, p.released, p.promoted} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
