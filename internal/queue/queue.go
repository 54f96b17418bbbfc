package queue

import (
	"context"
	"fmt"
)

// Publisher publishes reaction events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, event ReactionEvent) error
	Close() error
}

// EventHandler handles a consumed reaction event.
type EventHandler func(ctx context.Context, event ReactionEvent) error

// Consumer consumes reaction events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler EventHandler) error
	Close() error
}

// ReactionsQueue is the work queue carrying raw reaction add/remove signals.
const ReactionsQueue = "reactions"

var workQueues = []string{ReactionsQueue}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.reactions.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
