package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/gateway"
	"reaction-reminder/internal/observability"
	"reaction-reminder/internal/ratelimit"
	"reaction-reminder/internal/repository"
)

const (
	// maxFailedAttempts is the consecutive dispatch failure threshold per
	// item. Reaching it puts the item into cooldown.
	maxFailedAttempts = 5
	// failedReminderCooldown excludes a repeatedly failing item from checks
	// until the window passes.
	failedReminderCooldown = 5 * time.Minute
	// maxMentionsPerReminder caps direct mentions in one notification. The
	// remaining missing users are reported as a count instead.
	maxMentionsPerReminder = 50

	defaultCheckConcurrency = 4
	// schedulerRetryInterval is the re-arm delay after a store failure while
	// computing the next deadline.
	schedulerRetryInterval = 30 * time.Second
)

// SchedulerState describes what the run loop is currently doing.
type SchedulerState string

const (
	StateSleeping SchedulerState = "SLEEPING"
	StateArmed    SchedulerState = "ARMED"
	StateChecking SchedulerState = "CHECKING"
)

// CheckResult summarizes one completed due-check pass.
type CheckResult struct {
	Due            int `json:"due"`
	Notified       int `json:"notified"`
	FullyResponded int `json:"fullyResponded"`
	InCooldown     int `json:"inCooldown"`
	Removed        int `json:"removed"`
	Failed         int `json:"failed"`
}

// SchedulerStatus is a read-only snapshot of the run loop.
type SchedulerStatus struct {
	State              SchedulerState `json:"state"`
	NextCheckAt        *time.Time     `json:"nextCheckAt,omitempty"`
	LastReminderSentAt *time.Time     `json:"lastReminderSentAt,omitempty"`
}

// Statistics reports watched item counts and how far away the next check is.
type Statistics struct {
	TotalItems     int64          `json:"totalItems"`
	ActiveItems    int64          `json:"activeItems"`
	NextReminderIn *time.Duration `json:"nextReminderIn,omitempty"`
}

// schedulerEventSource is the slice of the event manager the scheduler needs.
type schedulerEventSource interface {
	ListActive(ctx context.Context) ([]domain.WatchedItem, error)
	ListDue(ctx context.Context, now time.Time) ([]domain.WatchedItem, error)
	MarkReminded(ctx context.Context, itemID string, now time.Time) (bool, error)
	Remove(ctx context.Context, itemID, guildID string) (bool, error)
	RefreshAccessibleUsers(ctx context.Context, itemID string, userIDs []string) error
	Counts(ctx context.Context) (total int64, active int64, err error)
}

// styleSource resolves the reaction style notifications are phrased with.
type styleSource interface {
	GetReactionStyle(ctx context.Context, guildID string) (domain.ReactionStyle, error)
}

// reminderAttempt tracks consecutive dispatch failures for one item. Held in
// memory only; a restart clears the slate.
type reminderAttempt struct {
	consecutiveFailures int
	cooldownUntil       time.Time
}

// ReminderScheduler drives the reminder lifecycle. It arms a single one-shot
// timer for the earliest deadline across all active items, runs a bounded
// concurrent check pass when the timer fires, then re-arms. Poke wakes it
// early when item state changes.
type ReminderScheduler struct {
	events      schedulerEventSource
	styles      styleSource
	chat        gateway.Gateway
	logs        repository.ReminderLogRepository
	rateLimiter ratelimit.RateLimiter
	metrics     *observability.Metrics
	logger      *zap.Logger

	concurrency int
	now         func() time.Time

	poke chan struct{}

	// checkMu serializes check passes; a forced check during a timer-driven
	// pass waits for it and then runs its own.
	checkMu sync.Mutex

	mu                 sync.Mutex
	state              SchedulerState
	nextCheckAt        *time.Time
	lastReminderSentAt *time.Time

	attemptMu sync.Mutex
	attempts  map[string]*reminderAttempt
}

func NewReminderScheduler(
	events schedulerEventSource,
	styles styleSource,
	chat gateway.Gateway,
	logs repository.ReminderLogRepository,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*ReminderScheduler, error) {
	if concurrency <= 0 {
		concurrency = defaultCheckConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReminderScheduler{
		events:      events,
		styles:      styles,
		chat:        chat,
		logs:        logs,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		poke:        make(chan struct{}, 1),
		state:       StateSleeping,
		attempts:    make(map[string]*reminderAttempt),
	}, nil
}

func (s *ReminderScheduler) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Poke wakes the run loop so it re-computes its deadline. Used after item
// registration, resume, or removal; a pending wake is collapsed into one.
func (s *ReminderScheduler) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Start runs the scheduling loop until ctx is cancelled. With no active
// items the loop sleeps with no timer armed and only a poke or cancellation
// wakes it.
func (s *ReminderScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("reminder scheduler started", zap.Int("concurrency", s.concurrency))

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		deadline, hasDeadline, err := s.nextDeadline(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to compute next check time", zap.Error(err))
			deadline, hasDeadline = s.now().Add(schedulerRetryInterval), true
		}

		if !hasDeadline {
			s.setState(StateSleeping, nil)
			select {
			case <-ctx.Done():
				return nil
			case <-s.poke:
			}
			continue
		}

		s.setState(StateArmed, &deadline)

		wait := deadline.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case <-s.poke:
			stopTimer(timer)
			continue
		case <-timer.C:
		}

		if _, err := s.runCheck(ctx, "timer"); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled check pass failed", zap.Error(err))
		}
	}
}

// ForceCheck runs one pass immediately, serialized with the timer-driven
// pass. Items reminded by a pass that just finished are no longer due, so a
// forced check right after one is a cheap no-op.
func (s *ReminderScheduler) ForceCheck(ctx context.Context) (CheckResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.runCheck(ctx, "manual")
	s.Poke()
	return result, err
}

func (s *ReminderScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{State: s.state}
	if s.nextCheckAt != nil {
		at := *s.nextCheckAt
		status.NextCheckAt = &at
	}
	if s.lastReminderSentAt != nil {
		at := *s.lastReminderSentAt
		status.LastReminderSentAt = &at
	}
	return status
}

func (s *ReminderScheduler) Statistics(ctx context.Context) (Statistics, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	total, active, err := s.events.Counts(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to count watched items: %w", err)
	}

	stats := Statistics{TotalItems: total, ActiveItems: active}

	s.mu.Lock()
	nextCheckAt := s.nextCheckAt
	s.mu.Unlock()

	if nextCheckAt != nil {
		in := nextCheckAt.Sub(s.now())
		if in < 0 {
			in = 0
		}
		stats.NextReminderIn = &in
	}

	return stats, nil
}

// nextDeadline computes the earliest moment any active item can need a
// check. Per-item cooldowns push an overdue item's deadline to the cooldown
// end so the loop does not wake just to skip it.
func (s *ReminderScheduler) nextDeadline(ctx context.Context) (time.Time, bool, error) {
	items, err := s.events.ListActive(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to list active items: %w", err)
	}
	if len(items) == 0 {
		return time.Time{}, false, nil
	}

	now := s.now()
	var earliest time.Time
	for i := range items {
		due := items[i].NextDueAt()
		if due.IsZero() {
			due = now
		}
		if until, ok := s.cooldownUntil(items[i].ItemID); ok && until.After(due) {
			due = until
		}
		if earliest.IsZero() || due.Before(earliest) {
			earliest = due
		}
	}

	return earliest, true, nil
}

func (s *ReminderScheduler) runCheck(ctx context.Context, trigger string) (CheckResult, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	s.setState(StateChecking, nil)

	now := s.now()
	dueItems, err := s.events.ListDue(ctx, now)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to list due items: %w", err)
	}

	result := CheckResult{Due: len(dueItems)}

	if len(dueItems) > 0 {
		var resultMu sync.Mutex
		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)

		for i := range dueItems {
			item := dueItems[i]
			g.Go(func() error {
				outcome := s.processItem(groupCtx, &item, now)

				resultMu.Lock()
				defer resultMu.Unlock()
				switch outcome {
				case outcomeNotified:
					result.Notified++
				case outcomeFullyResponded:
					result.FullyResponded++
				case outcomeCooldown:
					result.InCooldown++
				case outcomeRemoved:
					result.Removed++
				case outcomeFailed:
					result.Failed++
				}
				return nil
			})
		}

		_ = g.Wait()
	}

	if s.metrics != nil {
		s.metrics.IncCheckPass(trigger)
	}

	s.logger.Info("check pass completed",
		zap.String("trigger", trigger),
		zap.Int("due", result.Due),
		zap.Int("notified", result.Notified),
		zap.Int("fullyResponded", result.FullyResponded),
		zap.Int("inCooldown", result.InCooldown),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

type checkOutcome int

const (
	outcomeFullyResponded checkOutcome = iota
	outcomeNotified
	outcomeCooldown
	outcomeRemoved
	outcomeFailed
)

// processItem handles one due item. Failures are folded into the item's
// attempt bookkeeping and never abort the pass.
func (s *ReminderScheduler) processItem(ctx context.Context, item *domain.WatchedItem, now time.Time) checkOutcome {
	if until, ok := s.cooldownUntil(item.ItemID); ok {
		s.logger.Debug("skipping item in failure cooldown",
			zap.String("itemId", item.ItemID),
			zap.Time("cooldownUntil", until),
		)
		return outcomeCooldown
	}

	// Confirm the watched message still exists before composing anything.
	if _, err := s.chat.FetchMessage(ctx, item.ChannelID, item.ItemID); err != nil {
		if gateway.IsNotFound(err) {
			return s.removeGoneItem(ctx, item, now, err)
		}
		s.recordFailure(item, now, fmt.Errorf("failed to fetch watched message: %w", err))
		return outcomeFailed
	}

	// Membership refresh is best effort; a stale snapshot only means a few
	// extra or missing mentions until the next pass.
	if users, err := s.chat.AccessibleUsers(ctx, item.ChannelID); err != nil {
		s.logger.Warn("failed to refresh accessible users",
			zap.String("itemId", item.ItemID),
			zap.Error(err),
		)
	} else if len(users) > 0 {
		if err := s.events.RefreshAccessibleUsers(ctx, item.ItemID, users); err != nil {
			s.logger.Warn("failed to store accessible users",
				zap.String("itemId", item.ItemID),
				zap.Error(err),
			)
		} else {
			item.AccessibleUserIDs = users
		}
	}

	missing := item.MissingResponders()
	if len(missing) == 0 {
		marked, err := s.events.MarkReminded(ctx, item.ItemID, now)
		if err != nil || !marked {
			s.recordFailure(item, now, markRemindedError(marked, err))
			return outcomeFailed
		}
		s.clearFailures(item.ItemID)
		s.logger.Info("all users responded, interval restarted without notification",
			zap.String("itemId", item.ItemID),
			zap.String("guildId", item.GuildID),
		)
		return outcomeFullyResponded
	}

	return s.dispatchReminder(ctx, item, missing, now)
}

// dispatchReminder sends one reminder notification and records the outcome
// in the reminder log.
func (s *ReminderScheduler) dispatchReminder(ctx context.Context, item *domain.WatchedItem, missing []string, now time.Time) checkOutcome {
	style := s.lookupStyle(ctx, item.GuildID)
	text := composeReminder(item, style, missing)

	mentions := missing
	if len(mentions) > maxMentionsPerReminder {
		mentions = mentions[:maxMentionsPerReminder]
	}

	entry := &domain.ReminderLog{
		ID:             uuid.NewString(),
		ItemID:         item.ItemID,
		GuildID:        item.GuildID,
		ScheduledAt:    now,
		RecipientCount: len(mentions),
		Status:         domain.LogStatusPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to create reminder log entry",
			zap.String("itemId", item.ItemID),
			zap.Error(err),
		)
		entry = nil
	}

	if err := s.rateLimiter.Wait(ctx, item.GuildID); err != nil {
		s.failDispatch(ctx, item, entry, now, fmt.Errorf("rate limiter wait failed: %w", err))
		return outcomeFailed
	}

	sendStart := s.now()
	_, sendErr := s.chat.SendNotification(ctx, item.ChannelID, mentions, text)
	if s.metrics != nil {
		s.metrics.ObserveReminderSendDuration(s.now().Sub(sendStart))
	}

	if sendErr != nil {
		if gateway.IsNotFound(sendErr) {
			if entry != nil {
				s.markLogFailed(ctx, entry.ID, sendErr)
			}
			return s.removeGoneItem(ctx, item, now, sendErr)
		}
		s.failDispatch(ctx, item, entry, now, sendErr)
		return outcomeFailed
	}

	marked, err := s.events.MarkReminded(ctx, item.ItemID, now)
	if err != nil || !marked {
		s.failDispatch(ctx, item, entry, now, markRemindedError(marked, err))
		return outcomeFailed
	}

	s.clearFailures(item.ItemID)
	if entry != nil {
		if err := s.logs.MarkSent(ctx, entry.ID, s.now().UTC()); err != nil {
			s.logger.Warn("failed to mark reminder log entry sent",
				zap.String("itemId", item.ItemID),
				zap.Error(err),
			)
		}
	}

	sentAt := s.now()
	s.mu.Lock()
	s.lastReminderSentAt = &sentAt
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncReminderSent()
	}
	s.logger.Info("reminder sent",
		zap.String("itemId", item.ItemID),
		zap.String("guildId", item.GuildID),
		zap.Int("mentioned", len(mentions)),
		zap.Int("missing", len(missing)),
	)
	return outcomeNotified
}

// removeGoneItem handles the terminal case: the watched message or channel
// is confirmed gone, so the item is deleted instead of entering cooldown.
func (s *ReminderScheduler) removeGoneItem(ctx context.Context, item *domain.WatchedItem, now time.Time, cause error) checkOutcome {
	removed, err := s.events.Remove(ctx, item.ItemID, item.GuildID)
	if err != nil {
		s.recordFailure(item, now, fmt.Errorf("failed to remove vanished item: %w", err))
		return outcomeFailed
	}

	s.clearFailures(item.ItemID)

	detail := cause.Error()
	entry := &domain.ReminderLog{
		ID:          uuid.NewString(),
		ItemID:      item.ItemID,
		GuildID:     item.GuildID,
		ScheduledAt: now,
		Status:      domain.LogStatusFailed,
		ErrorDetail: &detail,
		CreatedAt:   s.now().UTC(),
	}
	if logErr := s.logs.Create(ctx, entry); logErr != nil {
		s.logger.Warn("failed to record removal in reminder log",
			zap.String("itemId", item.ItemID),
			zap.Error(logErr),
		)
	}

	if s.metrics != nil {
		s.metrics.IncReminderFailed("not_found")
	}
	s.logger.Info("watched message gone, item removed",
		zap.String("itemId", item.ItemID),
		zap.String("guildId", item.GuildID),
		zap.Bool("removed", removed),
		zap.Error(cause),
	)
	return outcomeRemoved
}

func (s *ReminderScheduler) failDispatch(ctx context.Context, item *domain.WatchedItem, entry *domain.ReminderLog, now time.Time, cause error) {
	if entry != nil {
		s.markLogFailed(ctx, entry.ID, cause)
	}
	s.recordFailure(item, now, cause)
}

func (s *ReminderScheduler) markLogFailed(ctx context.Context, entryID string, cause error) {
	if err := s.logs.MarkFailed(ctx, entryID, cause.Error()); err != nil {
		s.logger.Warn("failed to mark reminder log entry failed",
			zap.String("logId", entryID),
			zap.Error(err),
		)
	}
}

// recordFailure advances the item's consecutive failure counter and starts
// the cooldown window once the threshold is reached. The counter only resets
// on success, so a persistently failing item settles into one probe per
// cooldown window.
func (s *ReminderScheduler) recordFailure(item *domain.WatchedItem, now time.Time, cause error) {
	s.attemptMu.Lock()
	attempt := s.attempts[item.ItemID]
	if attempt == nil {
		attempt = &reminderAttempt{}
		s.attempts[item.ItemID] = attempt
	}
	attempt.consecutiveFailures++
	failures := attempt.consecutiveFailures
	if failures >= maxFailedAttempts {
		attempt.cooldownUntil = now.Add(failedReminderCooldown)
	}
	cooldownUntil := attempt.cooldownUntil
	s.attemptMu.Unlock()

	fields := []zap.Field{
		zap.String("itemId", item.ItemID),
		zap.String("guildId", item.GuildID),
		zap.Int("consecutiveFailures", failures),
		zap.Error(cause),
	}
	if failures >= maxFailedAttempts {
		fields = append(fields, zap.Time("cooldownUntil", cooldownUntil))
		s.logger.Warn("reminder dispatch entering cooldown", fields...)
	} else {
		s.logger.Warn("reminder dispatch failed", fields...)
	}

	if s.metrics != nil {
		s.metrics.IncReminderFailed(failureReason(cause))
		s.metrics.SetItemsInCooldown(s.cooldownCount())
	}
}

func (s *ReminderScheduler) clearFailures(itemID string) {
	s.attemptMu.Lock()
	_, existed := s.attempts[itemID]
	delete(s.attempts, itemID)
	s.attemptMu.Unlock()

	if existed && s.metrics != nil {
		s.metrics.SetItemsInCooldown(s.cooldownCount())
	}
}

func (s *ReminderScheduler) cooldownUntil(itemID string) (time.Time, bool) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	attempt := s.attempts[itemID]
	if attempt == nil || !attempt.cooldownUntil.After(s.now()) {
		return time.Time{}, false
	}
	return attempt.cooldownUntil, true
}

func (s *ReminderScheduler) cooldownCount() int {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	now := s.now()
	count := 0
	for _, attempt := range s.attempts {
		if attempt.cooldownUntil.After(now) {
			count++
		}
	}
	return count
}

func (s *ReminderScheduler) lookupStyle(ctx context.Context, guildID string) domain.ReactionStyle {
	style, err := s.styles.GetReactionStyle(ctx, guildID)
	if err != nil {
		s.logger.Warn("failed to load reaction style, using default",
			zap.String("guildId", guildID),
			zap.Error(err),
		)
		return domain.DefaultReactionStyle()
	}
	return style
}

func (s *ReminderScheduler) setState(state SchedulerState, nextCheckAt *time.Time) {
	s.mu.Lock()
	s.state = state
	s.nextCheckAt = nextCheckAt
	s.mu.Unlock()
}

// composeReminder builds the notification body. Mention tokens are rendered
// by the gateway; the body carries the title, the reaction instruction, and
// the count of missing users beyond the mention cap.
func composeReminder(item *domain.WatchedItem, style domain.ReactionStyle, missing []string) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = item.ItemID
	}

	var b strings.Builder
	b.WriteString("Reminder: ")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(style.InstructionText())

	if overflow := len(missing) - maxMentionsPerReminder; overflow > 0 {
		fmt.Fprintf(&b, "\n...and %d more still need to respond.", overflow)
	}

	return b.String()
}

func markRemindedError(marked bool, err error) error {
	if err != nil {
		return fmt.Errorf("failed to mark item reminded: %w", err)
	}
	return errors.New("item could not be marked reminded")
}

func failureReason(err error) string {
	switch {
	case gateway.IsNotFound(err):
		return "not_found"
	case gateway.IsPermission(err):
		return "permission"
	case gateway.IsTransient(err):
		return "transient"
	default:
		return "other"
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
