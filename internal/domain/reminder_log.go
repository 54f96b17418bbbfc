package domain

import (
	"fmt"
	"time"
)

// LogStatus tracks the lifecycle of one reminder delivery.
type LogStatus string

const (
	LogStatusPending LogStatus = "PENDING"
	LogStatusSent    LogStatus = "SENT"
	LogStatusFailed  LogStatus = "FAILED"
)

func (s LogStatus) String() string {
	return string(s)
}

func (s LogStatus) IsValid() bool {
	switch s {
	case LogStatusPending, LogStatusSent, LogStatusFailed:
		return true
	}
	return false
}

func ParseLogStatusFromString(raw string) (LogStatus, error) {
	status := LogStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: unknown log status %q", ErrValidation, raw)
	}
	return status, nil
}

// ReminderLog is one recorded reminder delivery for a watched item.
type ReminderLog struct {
	ID             string
	ItemID         string
	GuildID        string
	ScheduledAt    time.Time
	SentAt         *time.Time
	RecipientCount int
	Status         LogStatus
	ErrorDetail    *string
	CreatedAt      time.Time
}

func (l *ReminderLog) Validate() error {
	if l.ItemID == "" {
		return fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if l.GuildID == "" {
		return fmt.Errorf("%w: guild id is required", ErrValidation)
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("%w: unknown log status %q", ErrValidation, l.Status)
	}
	return nil
}
