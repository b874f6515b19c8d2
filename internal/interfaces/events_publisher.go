package interfaces

import "context"

// EventPublisher delivers ledger events to an external sink.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
