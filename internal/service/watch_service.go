package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/gateway"
	"reaction-reminder/internal/queue"
	"reaction-reminder/internal/repository"
)

// maxDefaultTitleLen caps titles derived from message content, in runes.
const maxDefaultTitleLen = 80

// WatchRequest is a watch registration as it arrives from the transport
// layer. Title is optional; when empty it is derived from the watched
// message's content.
type WatchRequest struct {
	ItemID          string
	ChannelID       string
	GuildID         string
	Title           string
	IntervalMinutes int
}

// watchManager is the slice of the event manager the watch service needs.
type watchManager interface {
	CreateOrUpdate(ctx context.Context, spec WatchSpec) (*domain.WatchedItem, error)
	Remove(ctx context.Context, itemID, guildID string) (bool, error)
	ListByGuild(ctx context.Context, guildID string) ([]domain.WatchedItem, error)
	SetPaused(ctx context.Context, itemID, guildID string, paused bool) (bool, error)
}

// checkScheduler is the scheduler surface exposed through the API.
type checkScheduler interface {
	Poke()
	ForceCheck(ctx context.Context) (CheckResult, error)
	Status() SchedulerStatus
	Statistics(ctx context.Context) (Statistics, error)
}

// WatchService is the API-facing façade. It validates watch requests against
// the live chat platform, keeps the scheduler informed about state changes,
// and fronts reminder history, reaction styles, and reaction ingest.
type WatchService struct {
	manager   watchManager
	scheduler checkScheduler
	chat      gateway.Gateway
	logs      repository.ReminderLogRepository
	styles    repository.GuildSettingRepository
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewWatchService(
	manager watchManager,
	scheduler checkScheduler,
	chat gateway.Gateway,
	logs repository.ReminderLogRepository,
	styles repository.GuildSettingRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*WatchService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WatchService{
		manager:   manager,
		scheduler: scheduler,
		chat:      chat,
		logs:      logs,
		styles:    styles,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Watch registers a message for reaction tracking. The message must exist;
// watching a deleted or inaccessible message fails up front rather than on
// the first check.
func (s *WatchService) Watch(ctx context.Context, req WatchRequest) (*domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID := strings.TrimSpace(req.ItemID)
	channelID := strings.TrimSpace(req.ChannelID)
	if itemID == "" || channelID == "" {
		return nil, fmt.Errorf("%w: item id and channel id are required", domain.ErrValidation)
	}

	msg, err := s.chat.FetchMessage(ctx, channelID, itemID)
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, fmt.Errorf("%w: message %s not found in channel %s", domain.ErrNotFound, itemID, channelID)
		}
		return nil, fmt.Errorf("failed to fetch watched message: %w", err)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle(msg.Content)
	}

	users, err := s.chat.AccessibleUsers(ctx, channelID)
	if err != nil {
		s.logger.Warn("failed to enumerate accessible users",
			zap.String("channelId", channelID),
			zap.Error(err),
		)
		users = nil
	}

	item, err := s.manager.CreateOrUpdate(ctx, WatchSpec{
		ItemID:            itemID,
		ChannelID:         channelID,
		GuildID:           req.GuildID,
		Title:             title,
		IntervalMinutes:   req.IntervalMinutes,
		AccessibleUserIDs: users,
	})
	if err != nil {
		return nil, err
	}

	s.scheduler.Poke()
	return item, nil
}

// Unwatch stops tracking an item. Returns false when no matching item
// existed.
func (s *WatchService) Unwatch(ctx context.Context, itemID, guildID string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	removed, err := s.manager.Remove(ctx, itemID, guildID)
	if err != nil {
		return false, err
	}
	if removed {
		s.scheduler.Poke()
	}
	return removed, nil
}

func (s *WatchService) List(ctx context.Context, guildID string) ([]domain.WatchedItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.manager.ListByGuild(ctx, guildID)
}

func (s *WatchService) Pause(ctx context.Context, itemID, guildID string) (bool, error) {
	return s.setPaused(ctx, itemID, guildID, true)
}

func (s *WatchService) Resume(ctx context.Context, itemID, guildID string) (bool, error) {
	return s.setPaused(ctx, itemID, guildID, false)
}

func (s *WatchService) setPaused(ctx context.Context, itemID, guildID string, paused bool) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	updated, err := s.manager.SetPaused(ctx, itemID, guildID, paused)
	if err != nil {
		return false, err
	}
	if updated {
		s.scheduler.Poke()
	}
	return updated, nil
}

func (s *WatchService) ForceCheck(ctx context.Context) (CheckResult, error) {
	return s.scheduler.ForceCheck(ctx)
}

func (s *WatchService) Status() SchedulerStatus {
	return s.scheduler.Status()
}

func (s *WatchService) Statistics(ctx context.Context) (Statistics, error) {
	return s.scheduler.Statistics(ctx)
}

// Logs returns the reminder delivery history for one item, newest first.
func (s *WatchService) Logs(ctx context.Context, itemID string, limit int) ([]domain.ReminderLog, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	return s.logs.ListByItem(ctx, itemID, limit)
}

// ReactionStyle returns the guild's configured style, or the default when
// none is stored.
func (s *WatchService) ReactionStyle(ctx context.Context, guildID string) (domain.ReactionStyle, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return domain.ReactionStyle{}, fmt.Errorf("%w: guild id is required", domain.ErrValidation)
	}

	return s.styles.GetReactionStyle(ctx, guildID)
}

// SetReactionStyle stores a guild's reminder phrasing. The style only shapes
// notification text; any emoji still counts as a response.
func (s *WatchService) SetReactionStyle(ctx context.Context, guildID string, style domain.ReactionStyle) error {
	if ctx == nil {
		ctx = context.Background()
	}

	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return fmt.Errorf("%w: guild id is required", domain.ErrValidation)
	}
	if err := style.Validate(); err != nil {
		return err
	}

	if err := s.styles.SaveReactionStyle(ctx, guildID, style); err != nil {
		return fmt.Errorf("failed to save reaction style: %w", err)
	}

	s.logger.Info("reaction style updated",
		zap.String("guildId", guildID),
		zap.Strings("symbols", style.Symbols),
	)
	return nil
}

// IngestReaction validates a raw reaction signal and hands it to the broker.
// Bot reactions are dropped at the door.
func (s *WatchService) IngestReaction(ctx context.Context, event queue.ReactionEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if event.FromBot {
		return nil
	}

	if err := s.publisher.Publish(ctx, queue.ReactionsQueue, event); err != nil {
		return fmt.Errorf("failed to enqueue reaction event: %w", err)
	}
	return nil
}

// defaultTitle derives a short title from message content: the first line,
// capped.
func defaultTitle(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = strings.TrimSpace(content[:i])
	}

	runes := []rune(content)
	if len(runes) > maxDefaultTitleLen {
		return string(runes[:maxDefaultTitleLen])
	}
	return content
}
