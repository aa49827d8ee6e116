package bus

import (
	"context"

	"github.com/lumenchat/lumen-backend/internal/realtime"
)

// Bus relays SSEMessages between instances so a client connected to one
// process still sees events produced on another.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
