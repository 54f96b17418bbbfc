package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/gateway"
	"reaction-reminder/internal/ratelimit"
	"reaction-reminder/internal/repository"
)

type fakeEventSource struct {
	listActiveFn   func(ctx context.Context) ([]domain.WatchedItem, error)
	listDueFn      func(ctx context.Context, now time.Time) ([]domain.WatchedItem, error)
	markRemindedFn func(ctx context.Context, itemID string, now time.Time) (bool, error)
	removeFn       func(ctx context.Context, itemID, guildID string) (bool, error)
	refreshFn      func(ctx context.Context, itemID string, userIDs []string) error
	countsFn       func(ctx context.Context) (int64, int64, error)

	mu       sync.Mutex
	reminded []string
	removed  []string
}

var _ schedulerEventSource = (*fakeEventSource)(nil)

func (f *fakeEventSource) ListActive(ctx context.Context) ([]domain.WatchedItem, error) {
	if f.listActiveFn != nil {
		return f.listActiveFn(ctx)
	}
	return nil, nil
}

func (f *fakeEventSource) ListDue(ctx context.Context, now time.Time) ([]domain.WatchedItem, error) {
	if f.listDueFn != nil {
		return f.listDueFn(ctx, now)
	}
	return nil, nil
}

func (f *fakeEventSource) MarkReminded(ctx context.Context, itemID string, now time.Time) (bool, error) {
	f.mu.Lock()
	f.reminded = append(f.reminded, itemID)
	f.mu.Unlock()
	if f.markRemindedFn != nil {
		return f.markRemindedFn(ctx, itemID, now)
	}
	return true, nil
}

func (f *fakeEventSource) Remove(ctx context.Context, itemID, guildID string) (bool, error) {
	f.mu.Lock()
	f.removed = append(f.removed, itemID)
	f.mu.Unlock()
	if f.removeFn != nil {
		return f.removeFn(ctx, itemID, guildID)
	}
	return true, nil
}

func (f *fakeEventSource) RefreshAccessibleUsers(ctx context.Context, itemID string, userIDs []string) error {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, itemID, userIDs)
	}
	return nil
}

func (f *fakeEventSource) Counts(ctx context.Context) (int64, int64, error) {
	if f.countsFn != nil {
		return f.countsFn(ctx)
	}
	return 0, 0, nil
}

func (f *fakeEventSource) remindedItems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reminded...)
}

func (f *fakeEventSource) removedItems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fakeStyleSource struct {
	getFn func(ctx context.Context, guildID string) (domain.ReactionStyle, error)
}

var _ styleSource = (*fakeStyleSource)(nil)

func (f *fakeStyleSource) GetReactionStyle(ctx context.Context, guildID string) (domain.ReactionStyle, error) {
	if f.getFn != nil {
		return f.getFn(ctx, guildID)
	}
	return domain.DefaultReactionStyle(), nil
}

type sentNotification struct {
	channelID string
	mentions  []string
	text      string
}

type fakeGateway struct {
	fetchMessageFn     func(ctx context.Context, channelID, messageID string) (*gateway.Message, error)
	sendNotificationFn func(ctx context.Context, channelID string, mentions []string, text string) (string, error)
	accessibleUsersFn  func(ctx context.Context, channelID string) ([]string, error)

	mu   sync.Mutex
	sent []sentNotification
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) FetchMessage(ctx context.Context, channelID, messageID string) (*gateway.Message, error) {
	if f.fetchMessageFn != nil {
		return f.fetchMessageFn(ctx, channelID, messageID)
	}
	return &gateway.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeGateway) SendNotification(ctx context.Context, channelID string, mentions []string, text string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentNotification{
		channelID: channelID,
		mentions:  append([]string(nil), mentions...),
		text:      text,
	})
	f.mu.Unlock()
	if f.sendNotificationFn != nil {
		return f.sendNotificationFn(ctx, channelID, mentions, text)
	}
	return "notif-1", nil
}

func (f *fakeGateway) AccessibleUsers(ctx context.Context, channelID string) ([]string, error) {
	if f.accessibleUsersFn != nil {
		return f.accessibleUsersFn(ctx, channelID)
	}
	return nil, nil
}

func (f *fakeGateway) sentNotifications() []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNotification(nil), f.sent...)
}

type fakeReminderLogRepo struct {
	createFn     func(ctx context.Context, entry *domain.ReminderLog) error
	markSentFn   func(ctx context.Context, id string, sentAt time.Time) error
	markFailedFn func(ctx context.Context, id string, errorDetail string) error
	listByItemFn func(ctx context.Context, itemID string, limit int) ([]domain.ReminderLog, error)

	mu      sync.Mutex
	created []domain.ReminderLog
	sent    []string
	failed  []string
}

var _ repository.ReminderLogRepository = (*fakeReminderLogRepo)(nil)

func (f *fakeReminderLogRepo) Create(ctx context.Context, entry *domain.ReminderLog) error {
	f.mu.Lock()
	f.created = append(f.created, *entry)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ctx, entry)
	}
	return nil
}

func (f *fakeReminderLogRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	f.mu.Lock()
	f.sent = append(f.sent, id)
	f.mu.Unlock()
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, sentAt)
	}
	return nil
}

func (f *fakeReminderLogRepo) MarkFailed(ctx context.Context, id string, errorDetail string) error {
	f.mu.Lock()
	f.failed = append(f.failed, id)
	f.mu.Unlock()
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, errorDetail)
	}
	return nil
}

func (f *fakeReminderLogRepo) ListByItem(ctx context.Context, itemID string, limit int) ([]domain.ReminderLog, error) {
	if f.listByItemFn != nil {
		return f.listByItemFn(ctx, itemID, limit)
	}
	return nil, nil
}

func (f *fakeReminderLogRepo) createdEntries() []domain.ReminderLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ReminderLog(nil), f.created...)
}

func (f *fakeReminderLogRepo) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeReminderLogRepo) failedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.failed...)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, bucket string) (bool, error)
	waitFn  func(ctx context.Context, bucket string) error

	mu     sync.Mutex
	waited []string
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

func (f *fakeRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, bucket)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	f.mu.Lock()
	f.waited = append(f.waited, bucket)
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}

func (f *fakeRateLimiter) waitedBuckets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.waited...)
}

type schedulerFixture struct {
	events  *fakeEventSource
	styles  *fakeStyleSource
	chat    *fakeGateway
	logs    *fakeReminderLogRepo
	limiter *fakeRateLimiter
}

func newTestScheduler(t *testing.T, fx *schedulerFixture, now time.Time) *ReminderScheduler {
	t.Helper()

	if fx.events == nil {
		fx.events = &fakeEventSource{}
	}
	if fx.styles == nil {
		fx.styles = &fakeStyleSource{}
	}
	if fx.chat == nil {
		fx.chat = &fakeGateway{}
	}
	if fx.logs == nil {
		fx.logs = &fakeReminderLogRepo{}
	}
	if fx.limiter == nil {
		fx.limiter = &fakeRateLimiter{}
	}

	scheduler, err := NewReminderScheduler(fx.events, fx.styles, fx.chat, fx.logs, fx.limiter, 1, nil)
	if err != nil {
		t.Fatalf("NewReminderScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return now }
	return scheduler
}

func dueItem(id string, accessible, responded []string) domain.WatchedItem {
	return domain.WatchedItem{
		ItemID:            id,
		ChannelID:         "chan-1",
		GuildID:           "guild-1",
		Title:             "release checklist",
		IntervalMinutes:   30,
		AccessibleUserIDs: accessible,
		RespondedUserIDs:  responded,
	}
}

func TestSchedulerCheckFullyRespondedRestartsWithoutNotification(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	item := dueItem("msg-1", []string{"user-1", "user-2"}, []string{"user-1", "user-2"})

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	result, err := scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}

	if result.FullyResponded != 1 || result.Notified != 0 {
		t.Fatalf("result = %+v, want one fully responded item and no notification", result)
	}
	if len(fx.chat.sentNotifications()) != 0 {
		t.Fatal("a notification was sent even though everyone responded")
	}
	if got := fx.events.remindedItems(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("reminded items = %v, want [msg-1]", got)
	}
}

func TestSchedulerCheckNotifiesMissingResponders(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	item := dueItem("msg-1", []string{"user-1", "user-2", "user-3"}, []string{"user-1"})

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	result, err := scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}
	if result.Notified != 1 {
		t.Fatalf("result = %+v, want one notified item", result)
	}

	sent := fx.chat.sentNotifications()
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
	if sent[0].channelID != "chan-1" {
		t.Fatalf("channel = %q, want chan-1", sent[0].channelID)
	}
	if len(sent[0].mentions) != 2 || sent[0].mentions[0] != "user-2" || sent[0].mentions[1] != "user-3" {
		t.Fatalf("mentions = %v, want [user-2 user-3]", sent[0].mentions)
	}
	if !strings.Contains(sent[0].text, "Reminder: release checklist") {
		t.Fatalf("text = %q, want the item title", sent[0].text)
	}
	if !strings.Contains(sent[0].text, "React with ✅ (yes), ❌ (no) or ❓ (maybe).") {
		t.Fatalf("text = %q, want the default reaction instruction", sent[0].text)
	}

	if got := fx.limiter.waitedBuckets(); len(got) != 1 || got[0] != "guild-1" {
		t.Fatalf("rate limiter buckets = %v, want [guild-1]", got)
	}

	created := fx.logs.createdEntries()
	if len(created) != 1 {
		t.Fatalf("created %d log entries, want 1", len(created))
	}
	if created[0].Status != domain.LogStatusPending || created[0].RecipientCount != 2 {
		t.Fatalf("log entry = %+v, want PENDING with 2 recipients", created[0])
	}
	if got := fx.logs.sentIDs(); len(got) != 1 || got[0] != created[0].ID {
		t.Fatalf("sent log ids = %v, want [%s]", got, created[0].ID)
	}
	if got := fx.events.remindedItems(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("reminded items = %v, want [msg-1]", got)
	}
}

func TestSchedulerCheckCapsMentionsAndReportsOverflow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	accessible := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		accessible = append(accessible, fmt.Sprintf("user-%02d", i))
	}
	item := dueItem("msg-1", accessible, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	if _, err := scheduler.runCheck(context.Background(), "manual"); err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}

	sent := fx.chat.sentNotifications()
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
	if len(sent[0].mentions) != 50 {
		t.Fatalf("mentioned %d users, want the 50 cap", len(sent[0].mentions))
	}
	if !strings.Contains(sent[0].text, "10 more still need to respond") {
		t.Fatalf("text = %q, want the overflow count of 10", sent[0].text)
	}

	created := fx.logs.createdEntries()
	if len(created) != 1 || created[0].RecipientCount != 50 {
		t.Fatalf("log entries = %+v, want one with 50 recipients", created)
	}
}

func TestSchedulerCheckRemovesGoneItem(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	item := dueItem("msg-1", []string{"user-1"}, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
		chat: &fakeGateway{
			fetchMessageFn: func(ctx context.Context, channelID, messageID string) (*gateway.Message, error) {
				return nil, &gateway.Error{StatusCode: 404, Kind: gateway.KindNotFound, Message: "message not found"}
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	result, err := scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}

	if result.Removed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want one removal and no failures", result)
	}
	if got := fx.events.removedItems(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("removed items = %v, want [msg-1]", got)
	}
	if len(fx.chat.sentNotifications()) != 0 {
		t.Fatal("a notification was sent for a vanished message")
	}
	if _, cooling := scheduler.cooldownUntil("msg-1"); cooling {
		t.Fatal("a confirmed-gone item must not enter cooldown")
	}

	created := fx.logs.createdEntries()
	if len(created) != 1 || created[0].Status != domain.LogStatusFailed {
		t.Fatalf("log entries = %+v, want one FAILED entry", created)
	}
	if created[0].ErrorDetail == nil || !strings.Contains(*created[0].ErrorDetail, "message not found") {
		t.Fatalf("log error detail = %v, want the gateway message", created[0].ErrorDetail)
	}
}

func TestSchedulerCooldownAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	current := base
	item := dueItem("msg-1", []string{"user-1"}, nil)

	sendErr := error(&gateway.Error{StatusCode: 502, Kind: gateway.KindTransient, Message: "bad gateway"})
	var sendMu sync.Mutex

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
		chat: &fakeGateway{
			sendNotificationFn: func(ctx context.Context, channelID string, mentions []string, text string) (string, error) {
				sendMu.Lock()
				defer sendMu.Unlock()
				if sendErr != nil {
					return "", sendErr
				}
				return "notif-1", nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, base)
	scheduler.now = func() time.Time { return current }

	for i := 0; i < maxFailedAttempts; i++ {
		result, err := scheduler.runCheck(context.Background(), "manual")
		if err != nil {
			t.Fatalf("runCheck() #%d error = %v", i+1, err)
		}
		if result.Failed != 1 {
			t.Fatalf("runCheck() #%d result = %+v, want one failure", i+1, result)
		}
	}

	until, cooling := scheduler.cooldownUntil("msg-1")
	if !cooling {
		t.Fatalf("item not in cooldown after %d failures", maxFailedAttempts)
	}
	if want := base.Add(failedReminderCooldown); !until.Equal(want) {
		t.Fatalf("cooldownUntil = %v, want %v", until, want)
	}

	// While cooling down the item is skipped, not retried.
	result, err := scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() during cooldown error = %v", err)
	}
	if result.InCooldown != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want one skipped item", result)
	}
	if got := len(fx.chat.sentNotifications()); got != maxFailedAttempts {
		t.Fatalf("send attempts = %d, want %d", got, maxFailedAttempts)
	}

	// After the window passes and the chat API recovers, the next pass
	// succeeds and clears the failure bookkeeping.
	current = base.Add(failedReminderCooldown + time.Second)
	sendMu.Lock()
	sendErr = nil
	sendMu.Unlock()

	result, err = scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() after cooldown error = %v", err)
	}
	if result.Notified != 1 {
		t.Fatalf("result = %+v, want one notified item", result)
	}
	if _, cooling := scheduler.cooldownUntil("msg-1"); cooling {
		t.Fatal("cooldown should clear after a successful send")
	}
}

func TestSchedulerCheckItemFailureDoesNotAbortPass(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	broken := dueItem("msg-broken", []string{"user-1"}, nil)
	broken.ChannelID = "chan-broken"
	healthy := dueItem("msg-healthy", []string{"user-1"}, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{broken, healthy}, nil
			},
		},
		chat: &fakeGateway{
			sendNotificationFn: func(ctx context.Context, channelID string, mentions []string, text string) (string, error) {
				if channelID == "chan-broken" {
					return "", &gateway.Error{StatusCode: 500, Kind: gateway.KindTransient, Message: "server error"}
				}
				return "notif-1", nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	result, err := scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}

	if result.Failed != 1 || result.Notified != 1 {
		t.Fatalf("result = %+v, want one failure and one success", result)
	}
	if got := fx.events.remindedItems(); len(got) != 1 || got[0] != "msg-healthy" {
		t.Fatalf("reminded items = %v, want [msg-healthy]", got)
	}
}

func TestSchedulerRateLimiterFailureCountsAsDispatchFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	item := dueItem("msg-1", []string{"user-1"}, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
		limiter: &fakeRateLimiter{
			waitFn: func(ctx context.Context, bucket string) error {
				return errors.New("redis unavailable")
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	result, err := scheduler.runCheck(context.Background(), "manual")
	if err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}

	if result.Failed != 1 {
		t.Fatalf("result = %+v, want one failure", result)
	}
	if len(fx.chat.sentNotifications()) != 0 {
		t.Fatal("a notification was sent past a failing rate limiter")
	}
	if got := fx.logs.failedIDs(); len(got) != 1 {
		t.Fatalf("failed log ids = %v, want one FAILED transition", got)
	}
}

func TestSchedulerStyleLookupFailureFallsBackToDefault(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	item := dueItem("msg-1", []string{"user-1"}, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
		styles: &fakeStyleSource{
			getFn: func(ctx context.Context, guildID string) (domain.ReactionStyle, error) {
				return domain.ReactionStyle{}, errors.New("connection reset")
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	if _, err := scheduler.runCheck(context.Background(), "manual"); err != nil {
		t.Fatalf("runCheck() error = %v", err)
	}

	sent := fx.chat.sentNotifications()
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
	if !strings.Contains(sent[0].text, "React with ✅ (yes), ❌ (no) or ❓ (maybe).") {
		t.Fatalf("text = %q, want the default instruction after a style lookup failure", sent[0].text)
	}
}

func TestSchedulerNextDeadline(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)

	itemAt := func(id string, intervalMinutes int, lastReminder *time.Time) domain.WatchedItem {
		return domain.WatchedItem{
			ItemID:          id,
			ChannelID:       "chan-1",
			GuildID:         "guild-1",
			IntervalMinutes: intervalMinutes,
			LastReminderAt:  lastReminder,
		}
	}

	t.Run("earliest item wins", func(t *testing.T) {
		t.Parallel()

		fx := &schedulerFixture{
			events: &fakeEventSource{
				listActiveFn: func(ctx context.Context) ([]domain.WatchedItem, error) {
					return []domain.WatchedItem{
						itemAt("msg-5min", 5, &base),
						itemAt("msg-30min", 30, &base),
					}, nil
				},
			},
		}
		scheduler := newTestScheduler(t, fx, base)

		deadline, ok, err := scheduler.nextDeadline(context.Background())
		if err != nil {
			t.Fatalf("nextDeadline() error = %v", err)
		}
		if !ok {
			t.Fatal("nextDeadline() = no deadline, want one")
		}
		if want := base.Add(5 * time.Minute); !deadline.Equal(want) {
			t.Fatalf("deadline = %v, want %v", deadline, want)
		}
	})

	t.Run("re-arm after earliest item reminded", func(t *testing.T) {
		t.Parallel()

		reminded := base.Add(5 * time.Minute)
		fx := &schedulerFixture{
			events: &fakeEventSource{
				listActiveFn: func(ctx context.Context) ([]domain.WatchedItem, error) {
					return []domain.WatchedItem{
						itemAt("msg-5min", 5, &reminded),
						itemAt("msg-30min", 30, &base),
					}, nil
				},
			},
		}
		scheduler := newTestScheduler(t, fx, reminded)

		deadline, ok, err := scheduler.nextDeadline(context.Background())
		if err != nil {
			t.Fatalf("nextDeadline() error = %v", err)
		}
		if !ok {
			t.Fatal("nextDeadline() = no deadline, want one")
		}
		if want := base.Add(10 * time.Minute); !deadline.Equal(want) {
			t.Fatalf("deadline = %v, want %v", deadline, want)
		}
	})

	t.Run("never-reminded item is due immediately", func(t *testing.T) {
		t.Parallel()

		fx := &schedulerFixture{
			events: &fakeEventSource{
				listActiveFn: func(ctx context.Context) ([]domain.WatchedItem, error) {
					return []domain.WatchedItem{itemAt("msg-new", 30, nil)}, nil
				},
			},
		}
		scheduler := newTestScheduler(t, fx, base)

		deadline, ok, err := scheduler.nextDeadline(context.Background())
		if err != nil {
			t.Fatalf("nextDeadline() error = %v", err)
		}
		if !ok || !deadline.Equal(base) {
			t.Fatalf("deadline = %v ok=%v, want %v", deadline, ok, base)
		}
	})

	t.Run("no active items means no deadline", func(t *testing.T) {
		t.Parallel()

		scheduler := newTestScheduler(t, &schedulerFixture{}, base)

		_, ok, err := scheduler.nextDeadline(context.Background())
		if err != nil {
			t.Fatalf("nextDeadline() error = %v", err)
		}
		if ok {
			t.Fatal("nextDeadline() returned a deadline with no active items")
		}
	})

	t.Run("cooldown defers an overdue item", func(t *testing.T) {
		t.Parallel()

		overdue := base.Add(-time.Hour)
		fx := &schedulerFixture{
			events: &fakeEventSource{
				listActiveFn: func(ctx context.Context) ([]domain.WatchedItem, error) {
					return []domain.WatchedItem{itemAt("msg-1", 5, &overdue)}, nil
				},
			},
		}
		scheduler := newTestScheduler(t, fx, base)

		item := itemAt("msg-1", 5, &overdue)
		for i := 0; i < maxFailedAttempts; i++ {
			scheduler.recordFailure(&item, base, errors.New("send failed"))
		}

		deadline, ok, err := scheduler.nextDeadline(context.Background())
		if err != nil {
			t.Fatalf("nextDeadline() error = %v", err)
		}
		if !ok {
			t.Fatal("nextDeadline() = no deadline, want one")
		}
		if want := base.Add(failedReminderCooldown); !deadline.Equal(want) {
			t.Fatalf("deadline = %v, want the cooldown end %v", deadline, want)
		}
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		t.Parallel()

		fx := &schedulerFixture{
			events: &fakeEventSource{
				listActiveFn: func(ctx context.Context) ([]domain.WatchedItem, error) {
					return nil, errors.New("connection reset")
				},
			},
		}
		scheduler := newTestScheduler(t, fx, base)

		if _, _, err := scheduler.nextDeadline(context.Background()); err == nil {
			t.Fatal("nextDeadline() expected error")
		}
	})
}

func TestSchedulerStartSleepsWithoutItems(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(t, &schedulerFixture{}, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	waitForState(t, scheduler, StateSleeping)

	// A poke with still no items keeps the loop asleep rather than arming.
	scheduler.Poke()
	waitForState(t, scheduler, StateSleeping)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not stop after cancellation")
	}
}

func TestSchedulerStartChecksAndReArms(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	item := dueItem("msg-1", nil, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listActiveFn: func(ctx context.Context) ([]domain.WatchedItem, error) {
				mu.Lock()
				defer mu.Unlock()
				return []domain.WatchedItem{item}, nil
			},
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				mu.Lock()
				defer mu.Unlock()
				if item.LastReminderAt != nil {
					return nil, nil
				}
				return []domain.WatchedItem{item}, nil
			},
			markRemindedFn: func(ctx context.Context, itemID string, at time.Time) (bool, error) {
				mu.Lock()
				defer mu.Unlock()
				item.LastReminderAt = &at
				return true, nil
			},
		},
	}

	scheduler, err := NewReminderScheduler(fx.events, &fakeStyleSource{}, &fakeGateway{}, &fakeReminderLogRepo{}, &fakeRateLimiter{}, 1, nil)
	if err != nil {
		t.Fatalf("NewReminderScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	// The never-reminded item fires immediately; after the pass the loop
	// must re-arm for the item's next interval.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		remindedAt := item.LastReminderAt
		mu.Unlock()
		if remindedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("item was never reminded by the running loop")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitForState(t, scheduler, StateArmed)

	status := scheduler.Status()
	if status.NextCheckAt == nil {
		t.Fatal("armed scheduler must expose its next check time")
	}
	mu.Lock()
	wantNext := item.LastReminderAt.Add(30 * time.Minute)
	mu.Unlock()
	if !status.NextCheckAt.Equal(wantNext) {
		t.Fatalf("NextCheckAt = %v, want %v", status.NextCheckAt, wantNext)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not stop after cancellation")
	}
}

func waitForState(t *testing.T, scheduler *ReminderScheduler, want SchedulerState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if scheduler.Status().State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduler state = %s, want %s", scheduler.Status().State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerForceCheckRunsImmediately(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	item := dueItem("msg-1", []string{"user-1"}, nil)

	fx := &schedulerFixture{
		events: &fakeEventSource{
			listDueFn: func(ctx context.Context, at time.Time) ([]domain.WatchedItem, error) {
				return []domain.WatchedItem{item}, nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	result, err := scheduler.ForceCheck(context.Background())
	if err != nil {
		t.Fatalf("ForceCheck() error = %v", err)
	}
	if result.Due != 1 || result.Notified != 1 {
		t.Fatalf("result = %+v, want one due and notified item", result)
	}
}

func TestSchedulerStatistics(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	fx := &schedulerFixture{
		events: &fakeEventSource{
			countsFn: func(ctx context.Context) (int64, int64, error) {
				return 5, 3, nil
			},
		},
	}
	scheduler := newTestScheduler(t, fx, now)

	next := now.Add(10 * time.Minute)
	scheduler.setState(StateArmed, &next)

	stats, err := scheduler.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalItems != 5 || stats.ActiveItems != 3 {
		t.Fatalf("stats = %+v, want totals 5/3", stats)
	}
	if stats.NextReminderIn == nil || *stats.NextReminderIn != 10*time.Minute {
		t.Fatalf("NextReminderIn = %v, want 10m", stats.NextReminderIn)
	}

	// A deadline that has already passed clamps to zero.
	past := now.Add(-time.Minute)
	scheduler.setState(StateArmed, &past)
	stats, err = scheduler.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.NextReminderIn == nil || *stats.NextReminderIn != 0 {
		t.Fatalf("NextReminderIn = %v, want 0", stats.NextReminderIn)
	}
}

func TestComposeReminderFallsBackToItemID(t *testing.T) {
	t.Parallel()

	item := dueItem("msg-1", nil, nil)
	item.Title = "   "

	text := composeReminder(&item, domain.DefaultReactionStyle(), []string{"user-1"})
	if !strings.Contains(text, "Reminder: msg-1") {
		t.Fatalf("text = %q, want the item id as fallback title", text)
	}
	if strings.Contains(text, "more still need to respond") {
		t.Fatalf("text = %q, unexpected overflow sentence", text)
	}
}
