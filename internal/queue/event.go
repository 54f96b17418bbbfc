package queue

import (
	"fmt"
	"strings"
)

// ReactionEvent is the broker payload for one raw reaction add or remove
// signal. The transport may duplicate or reorder these; the aggregator is
// responsible for converging them.
type ReactionEvent struct {
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
	FromBot   bool   `json:"fromBot"`
}

func (e ReactionEvent) Validate() error {
	if strings.TrimSpace(e.GuildID) == "" {
		return fmt.Errorf("guildId is required")
	}
	if strings.TrimSpace(e.ChannelID) == "" {
		return fmt.Errorf("channelId is required")
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(e.Emoji) == "" {
		return fmt.Errorf("emoji is required")
	}
	return nil
}
