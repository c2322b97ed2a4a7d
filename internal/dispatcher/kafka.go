package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"collection-payments/internal/domain"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"
)

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher writes PaymentCompleted events keyed by charge id.
type KafkaPublisher struct {
	producer producer
	topic    string
}

func NewKafkaPublisher(bootstrapServers, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	log.WithField("topic", topic).Info("Kafka producer created")
	return &KafkaPublisher{producer: p, topic: topic}, nil
}

// Publish waits for the broker's delivery report or ctx expiry.
func (k *KafkaPublisher) Publish(ctx context.Context, event domain.PaymentCompleted) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode payment event: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ChargeID),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce payment event: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("payment event delivery not confirmed: %w", ctx.Err())
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("payment event delivery failed: %w", m.TopicPartition.Error)
		}
	}

	log.WithFields(log.Fields{
		"topic":     k.topic,
		"charge_id": event.ChargeID,
	}).Debug("Payment event published")
	return nil
}

func (k *KafkaPublisher) Close() {
	if remaining := k.producer.Flush(5000); remaining > 0 {
		log.WithField("remaining", remaining).Warn("Kafka producer closed with undelivered messages")
	}
	k.producer.Close()
}
