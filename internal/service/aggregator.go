package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/observability"
	"reaction-reminder/internal/queue"
)

// responseRecorder is the slice of the event manager the aggregator needs.
type responseRecorder interface {
	RecordResponse(ctx context.Context, itemID, userID string, responded bool) error
}

// ReactionAggregator folds raw reaction signals from the broker into the
// responded set of the matching watched item. Any emoji counts as a
// response; the configured reaction style only shapes reminder phrasing.
type ReactionAggregator struct {
	recorder responseRecorder
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewReactionAggregator(recorder responseRecorder, logger *zap.Logger) (*ReactionAggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReactionAggregator{
		recorder: recorder,
		logger:   logger,
	}, nil
}

func (a *ReactionAggregator) SetMetrics(metrics *observability.Metrics) {
	a.metrics = metrics
}

// Apply processes one reaction signal. Bot reactions are dropped, and the
// add/remove pair converges regardless of delivery order or duplication
// because the underlying responded set is idempotent.
func (a *ReactionAggregator) Apply(ctx context.Context, event queue.ReactionEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	logger := observability.WithContextLogger(a.logger, ctx)

	if event.FromBot {
		logger.Debug("ignoring bot reaction",
			zap.String("messageId", event.MessageID),
			zap.String("userId", event.UserID),
		)
		if a.metrics != nil {
			a.metrics.IncReactionProcessed("bot_ignored")
		}
		return nil
	}

	if err := a.recorder.RecordResponse(ctx, event.MessageID, event.UserID, event.Added); err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}

	if a.metrics != nil {
		if event.Added {
			a.metrics.IncReactionProcessed("added")
		} else {
			a.metrics.IncReactionProcessed("removed")
		}
	}

	logger.Debug("reaction applied",
		zap.String("messageId", event.MessageID),
		zap.String("userId", event.UserID),
		zap.String("emoji", event.Emoji),
		zap.Bool("added", event.Added),
	)
	return nil
}
