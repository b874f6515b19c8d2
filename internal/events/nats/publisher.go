package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
)

// Publisher sends each event to "<prefix>.<EventName>".
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials url and returns a publisher rooted at subjectPrefix.
func Connect(url, subjectPrefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("lending-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewPublisher(nc, subjectPrefix), nil
}

func NewPublisher(conn *nats.Conn, subjectPrefix string) *Publisher {
	return &Publisher{conn: conn, prefix: subjectPrefix}
}

func Subject(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (p *Publisher) Publish(ctx context.Context, name string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	msg := nats.NewMsg(Subject(p.prefix, name))
	msg.Data = data
	if id := messageID(event); id != "" {
		// lets JetStream streams drop duplicates
		msg.Header.Set("Nats-Msg-Id", id)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", name, err)
	}
	return nil
}

// Close flushes pending messages and drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

type identified interface {
	ID() string
}

func messageID(event any) string {
	if ev, ok := event.(identified); ok {
		return ev.ID()
	}
	return ""
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
