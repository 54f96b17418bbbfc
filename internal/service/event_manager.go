package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/repository"
)

// WatchSpec carries the fields a caller may set when creating or updating a
// watched item. Fields the engine owns, such as the responded set and the
// last reminder time, are never taken from the spec.
type WatchSpec struct {
	ItemID            string
	ChannelID         string
	GuildID           string
	Title             string
	IntervalMinutes   int
	AccessibleUserIDs []string
}

// EventManager owns the watched item lifecycle: registration, response
// bookkeeping, pause state, and removal. All mutations go through the
// repository so concurrent checks and reaction processing see one source of
// truth.
type EventManager struct {
	items  repository.WatchedItemRepository
	bounds domain.IntervalBounds
	logger *zap.Logger
}

func NewEventManager(
	items repository.WatchedItemRepository,
	bounds domain.IntervalBounds,
	logger *zap.Logger,
) (*EventManager, error) {
	if bounds.Min <= 0 || bounds.Max < bounds.Min {
		bounds = domain.NormalIntervalBounds()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventManager{
		items:  items,
		bounds: bounds,
		logger: logger,
	}, nil
}

// CreateOrUpdate registers a watched item or refreshes an existing one with
// the same item id. On update the responded set, the creation time, the last
// reminder time, and the pause flag survive; everything the spec carries is
// replaced.
func (m *EventManager) CreateOrUpdate(ctx context.Context, spec WatchSpec) (*domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	item := &domain.WatchedItem{
		ItemID:            strings.TrimSpace(spec.ItemID),
		ChannelID:         strings.TrimSpace(spec.ChannelID),
		GuildID:           strings.TrimSpace(spec.GuildID),
		Title:             strings.TrimSpace(spec.Title),
		IntervalMinutes:   spec.IntervalMinutes,
		AccessibleUserIDs: spec.AccessibleUserIDs,
	}
	if err := item.Validate(m.bounds); err != nil {
		return nil, err
	}

	existing, err := m.items.GetByID(ctx, item.ItemID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load watched item: %w", err)
	}
	if existing != nil {
		item.RespondedUserIDs = existing.RespondedUserIDs
		item.CreatedAt = existing.CreatedAt
		item.LastReminderAt = existing.LastReminderAt
		item.IsPaused = existing.IsPaused
	}

	if err := m.items.Save(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save watched item: %w", err)
	}

	if existing == nil {
		m.logger.Info("watched item registered",
			zap.String("itemId", item.ItemID),
			zap.String("guildId", item.GuildID),
			zap.Int("intervalMinutes", item.IntervalMinutes),
		)
	} else {
		m.logger.Info("watched item updated",
			zap.String("itemId", item.ItemID),
			zap.String("guildId", item.GuildID),
			zap.Int("intervalMinutes", item.IntervalMinutes),
		)
	}

	return item, nil
}

// Remove deletes a watched item. The guild id must match the stored one so a
// caller cannot remove another guild's item by id alone. Returns false when
// nothing matched.
func (m *EventManager) Remove(ctx context.Context, itemID, guildID string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	guildID = strings.TrimSpace(guildID)
	if itemID == "" || guildID == "" {
		return false, fmt.Errorf("%w: item id and guild id are required", domain.ErrValidation)
	}

	removed, err := m.items.Delete(ctx, itemID, guildID)
	if err != nil {
		return false, fmt.Errorf("failed to delete watched item: %w", err)
	}
	if removed {
		m.logger.Info("watched item removed",
			zap.String("itemId", itemID),
			zap.String("guildId", guildID),
		)
	}
	return removed, nil
}

func (m *EventManager) Get(ctx context.Context, itemID string) (*domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	return m.items.GetByID(ctx, itemID)
}

func (m *EventManager) ListByGuild(ctx context.Context, guildID string) ([]domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", domain.ErrValidation)
	}

	return m.items.ListByGuild(ctx, guildID)
}

func (m *EventManager) ListActive(ctx context.Context) ([]domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.items.ListActive(ctx)
}

func (m *EventManager) ListDue(ctx context.Context, now time.Time) ([]domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.items.ListDue(ctx, now)
}

// MarkReminded stamps the item's last reminder time, which restarts its
// interval. The false return is soft: an item that vanished or no longer
// validates yields (false, nil) so the caller can fold the miss into its
// normal failure bookkeeping instead of aborting the pass.
func (m *EventManager) MarkReminded(ctx context.Context, itemID string, now time.Time) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return false, nil
	}

	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load watched item: %w", err)
	}

	if err := item.Validate(m.bounds); err != nil {
		m.logger.Warn("watched item no longer validates, not marking reminded",
			zap.String("itemId", itemID),
			zap.Error(err),
		)
		return false, nil
	}

	if err := m.items.UpdateLastReminderAt(ctx, itemID, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update last reminder time: %w", err)
	}

	return true, nil
}

// RecordResponse folds one reaction signal into the responded set.
// responded=true marks the user as having answered, false clears the mark.
// Signals for unknown items or no-op transitions return nil; reactions to
// unwatched messages are routine traffic, not errors.
func (m *EventManager) RecordResponse(ctx context.Context, itemID, userID string, responded bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	userID = strings.TrimSpace(userID)
	if itemID == "" || userID == "" {
		return fmt.Errorf("%w: item id and user id are required", domain.ErrValidation)
	}

	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load watched item: %w", err)
	}

	var changed bool
	if responded {
		changed = item.MarkResponded(userID)
	} else {
		changed = item.ClearResponded(userID)
	}
	if !changed {
		return nil
	}

	if err := m.items.UpdateRespondedUsers(ctx, itemID, item.RespondedUserIDs); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to update responded users: %w", err)
	}

	m.logger.Debug("response state updated",
		zap.String("itemId", itemID),
		zap.String("userId", userID),
		zap.Bool("responded", responded),
	)
	return nil
}

// SetPaused flips the pause flag. Paused items keep their state but are
// excluded from due computation until resumed. Returns false when no item
// matched.
func (m *EventManager) SetPaused(ctx context.Context, itemID, guildID string, paused bool) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	guildID = strings.TrimSpace(guildID)
	if itemID == "" || guildID == "" {
		return false, fmt.Errorf("%w: item id and guild id are required", domain.ErrValidation)
	}

	updated, err := m.items.SetPaused(ctx, itemID, guildID, paused)
	if err != nil {
		return false, fmt.Errorf("failed to update pause state: %w", err)
	}
	if updated {
		m.logger.Info("watched item pause state changed",
			zap.String("itemId", itemID),
			zap.String("guildId", guildID),
			zap.Bool("paused", paused),
		)
	}
	return updated, nil
}

// RefreshAccessibleUsers replaces the stored membership snapshot. A missing
// item is ignored; the snapshot is advisory and the item may have been
// removed since the caller loaded it.
func (m *EventManager) RefreshAccessibleUsers(ctx context.Context, itemID string, userIDs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	if err := m.items.UpdateAccessibleUsers(ctx, itemID, userIDs); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to update accessible users: %w", err)
	}
	return nil
}

func (m *EventManager) Counts(ctx context.Context) (total int64, active int64, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.items.Counts(ctx)
}
