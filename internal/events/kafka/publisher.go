package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
)

// Publisher writes every ledger event to one Kafka topic. The event name is
// carried in a header so consumers can dispatch without decoding the payload.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish keys the message by account so one user's events stay ordered
// within a partition.
func (p *Publisher) Publish(ctx context.Context, name string, event any) error {
	msg, err := newMessage(name, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", name, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

type accountEvent interface {
	Account() string
}

func newMessage(name string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", name, err)
	}
	msg := kafka.Message{
		Value:   data,
		Headers: []kafka.Header{{Key: "event", Value: []byte(name)}},
	}
	if ae, ok := event.(accountEvent); ok {
		msg.Key = []byte(ae.Account())
	}
	return msg, nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
