package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IntervalBounds constrains the reminder interval of watched items, in minutes.
type IntervalBounds struct {
	Min int
	Max int
}

// NormalIntervalBounds returns the production bounds: 5 minutes to 24 hours.
func NormalIntervalBounds() IntervalBounds {
	return IntervalBounds{Min: 5, Max: 1440}
}

// PermissiveIntervalBounds returns the relaxed bounds used by test
// deployments: 1 minute to 7 days.
func PermissiveIntervalBounds() IntervalBounds {
	return IntervalBounds{Min: 1, Max: 10080}
}

func (b IntervalBounds) Validate(intervalMinutes int) error {
	if intervalMinutes < b.Min || intervalMinutes > b.Max {
		return fmt.Errorf("%w: interval must be between %d and %d minutes (got %d)", ErrValidation, b.Min, b.Max, intervalMinutes)
	}
	return nil
}

// WatchedItem is a monitored chat message awaiting reactions from the users
// that can see it.
type WatchedItem struct {
	ItemID            string
	ChannelID         string
	GuildID           string
	Title             string
	IntervalMinutes   int
	IsPaused          bool
	LastReminderAt    *time.Time
	RespondedUserIDs  []string
	AccessibleUserIDs []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (w *WatchedItem) Validate(bounds IntervalBounds) error {
	if strings.TrimSpace(w.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if strings.TrimSpace(w.ChannelID) == "" {
		return fmt.Errorf("%w: channel id is required", ErrValidation)
	}
	if strings.TrimSpace(w.GuildID) == "" {
		return fmt.Errorf("%w: guild id is required", ErrValidation)
	}
	if w.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: interval must be positive (got %d)", ErrValidation, w.IntervalMinutes)
	}
	return bounds.Validate(w.IntervalMinutes)
}

// Interval returns the reminder interval as a duration.
func (w *WatchedItem) Interval() time.Duration {
	return time.Duration(w.IntervalMinutes) * time.Minute
}

// IsDueAt reports whether the item is overdue for a reminder at now. Paused
// items are never due; an item that has never been reminded always is.
func (w *WatchedItem) IsDueAt(now time.Time) bool {
	if w.IsPaused {
		return false
	}
	if w.LastReminderAt == nil {
		return true
	}
	return now.Sub(*w.LastReminderAt) >= w.Interval()
}

// NextDueAt returns the point in time the item next becomes due. Items that
// have never been reminded return the zero time, meaning due immediately.
func (w *WatchedItem) NextDueAt() time.Time {
	if w.LastReminderAt == nil {
		return time.Time{}
	}
	return w.LastReminderAt.Add(w.Interval())
}

// MarkResponded records userID as having responded and reports whether the
// set changed. Duplicate add signals from the transport collapse to one entry.
func (w *WatchedItem) MarkResponded(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range w.RespondedUserIDs {
		if id == userID {
			return false
		}
	}
	w.RespondedUserIDs = append(w.RespondedUserIDs, userID)
	return true
}

// ClearResponded removes userID from the responded set and reports whether
// the set changed. Removing a user that never responded is a no-op.
func (w *WatchedItem) ClearResponded(userID string) bool {
	for i, id := range w.RespondedUserIDs {
		if id == userID {
			w.RespondedUserIDs = append(w.RespondedUserIDs[:i], w.RespondedUserIDs[i+1:]...)
			return true
		}
	}
	return false
}

func (w *WatchedItem) HasResponded(userID string) bool {
	for _, id := range w.RespondedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MissingResponders returns the accessible users that have not responded,
// sorted so mention order is deterministic. Users that responded but are no
// longer accessible do not reappear; stale membership is tolerated.
func (w *WatchedItem) MissingResponders() []string {
	responded := make(map[string]struct{}, len(w.RespondedUserIDs))
	for _, id := range w.RespondedUserIDs {
		responded[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(w.AccessibleUserIDs))
	missing := make([]string, 0, len(w.AccessibleUserIDs))
	for _, id := range w.AccessibleUserIDs {
		if id == "" {
			continue
		}
		if _, ok := responded[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}

	sort.Strings(missing)
	return missing
}
