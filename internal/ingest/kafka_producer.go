package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// StatusProducer publishes order status events to the change-feed topic,
// keyed by order id so per-order ordering is preserved within a partition.
type StatusProducer struct {
	writer *kafka.Writer
}

func NewStatusProducer(brokers []string, topic string) *StatusProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &StatusProducer{writer: w}
}

func (p *StatusProducer) PublishStatus(ev models.StatusEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.OrderID), Value: b})
}

func (p *StatusProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
