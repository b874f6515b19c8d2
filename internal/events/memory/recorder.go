package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
)

// Published is one event as handed to the recorder.
type Published struct {
	Topic string
	Event any
}

// Recorder keeps the most recent events in memory and logs each one. It is
// the default sink when no broker is configured.
type Recorder struct {
	mu     sync.Mutex
	events []Published
	limit  int
	logger *zap.Logger
}

// NewRecorder keeps at most limit events; limit <= 0 keeps everything.
func NewRecorder(limit int, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{limit: limit, logger: logger}
}

func (r *Recorder) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Published{Topic: topic, Event: event})
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	r.logger.Info("ledger event", zap.String("topic", topic), zap.Any("event", event))
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make([]Published, len(r.events))
	copy(copied, r.events)
	return copied
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *Recorder) Close() error { return nil }

var _ interfaces.EventPublisher = (*Recorder)(nil)
