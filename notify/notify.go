package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event records who moved which item, and how.
type Event struct {
	ItemKind string // "transaction" or "request"
	ItemID   string
	Action   string
	ActorID  string
	At       time.Time
}

// Sink receives transition notifications. Implementations must tolerate being
// called after the state change has committed; errors are advisory and the
// queue services never block on them.
type Sink interface {
	TransitionRecorded(ctx context.Context, e Event) error
}

// LogSink writes transitions to the structured log. It stands in for the
// console's notification fan-out in deployments that have none.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) TransitionRecorded(_ context.Context, e Event) error {
	s.log.Info("transition recorded",
		zap.String("item_kind", e.ItemKind),
		zap.String("item_id", e.ItemID),
		zap.String("action", e.Action),
		zap.String("actor_id", e.ActorID),
		zap.Time("at", e.At),
	)
	return nil
}
