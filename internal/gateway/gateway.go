package gateway

import "context"

// Gateway is the outbound chat platform port: fetching watched messages,
// posting reminder notifications and enumerating channel membership.
type Gateway interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	SendNotification(ctx context.Context, channelID string, mentionUserIDs []string, text string) (string, error)
	AccessibleUsers(ctx context.Context, channelID string) ([]string, error)
}

// Message is a fetched chat message.
type Message struct {
	ID        string
	ChannelID string
	Content   string
	AuthorID  string
}

// MentionToken renders a user id as an inline mention.
func MentionToken(userID string) string {
	return "<@" + userID + ">"
}
