package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/matching"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trades and new orders as JSON, keyed by ticker
type KafkaPublisher struct {
	writer     messageWriter
	tradeTopic string
	orderTopic string
}

func NewKafkaPublisher(brokers []string, tradeTopic, orderTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		tradeTopic: tradeTopic,
		orderTopic: orderTopic,
	}
}

func (p *KafkaPublisher) PublishTrade(ctx context.Context, tr matching.Trade) error {
	return p.send(ctx, p.tradeTopic, tr.Ticker.String(), NewTrade(tr))
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, o orderbook.Order) error {
	return p.send(ctx, p.orderTopic, o.Ticker.String(), NewOrder(o))
}

func (p *KafkaPublisher) send(ctx context.Context, topic, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
