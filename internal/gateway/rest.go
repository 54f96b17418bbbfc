package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRequestTimeout = 10 * time.Second

type messagePayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
}

type memberPayload struct {
	User struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"user"`
}

type allowedMentions struct {
	Users []string `json:"users"`
}

type sendMessageRequest struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// RESTGateway talks to a Discord-compatible chat HTTP API.
type RESTGateway struct {
	client  *resty.Client
	baseURL string
}

func NewRESTGateway(baseURL, token string) (*RESTGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultRequestTimeout)
	client.SetRetryCount(0)

	return NewRESTGatewayWithClient(baseURL, token, client)
}

func NewRESTGatewayWithClient(baseURL, token string, client *resty.Client) (*RESTGateway, error) {
	trimmedBaseURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBaseURL == "" {
		return nil, fmt.Errorf("chat api base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBaseURL); err != nil {
		return nil, fmt.Errorf("invalid chat api base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRequestTimeout)
	}
	client.SetRetryCount(0)

	if token := strings.TrimSpace(token); token != "" {
		client.SetHeader("Authorization", "Bot "+token)
	}

	return &RESTGateway{
		client:  client,
		baseURL: trimmedBaseURL,
	}, nil
}

func (g *RESTGateway) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("channel id and message id are required")
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"channelID": channelID,
			"messageID": messageID,
		}).
		Get(g.baseURL + "/channels/{channelID}/messages/{messageID}")
	if err != nil {
		return nil, transportError(err)
	}
	if response == nil {
		return nil, &Error{Kind: KindTransient, Message: "chat api returned empty response"}
	}
	if !isSuccessStatus(response.StatusCode()) {
		return nil, statusError(response)
	}

	var payload messagePayload
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "chat api returned malformed message", Cause: err}
	}

	return &Message{
		ID:        payload.ID,
		ChannelID: payload.ChannelID,
		Content:   payload.Content,
		AuthorID:  payload.Author.ID,
	}, nil
}

func (g *RESTGateway) SendNotification(ctx context.Context, channelID string, mentionUserIDs []string, text string) (string, error) {
	if g == nil || g.client == nil {
		return "", fmt.Errorf("gateway is not initialized")
	}
	if strings.TrimSpace(channelID) == "" {
		return "", fmt.Errorf("channel id is required")
	}

	content := buildContent(mentionUserIDs, text)
	if content == "" {
		return "", fmt.Errorf("notification content is empty")
	}

	reqBody := sendMessageRequest{
		Content:         content,
		AllowedMentions: allowedMentions{Users: mentionUserIDs},
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetPathParam("channelID", channelID).
		Post(g.baseURL + "/channels/{channelID}/messages")
	if err != nil {
		return "", transportError(err)
	}
	if response == nil {
		return "", &Error{Kind: KindTransient, Message: "chat api returned empty response"}
	}
	if !isSuccessStatus(response.StatusCode()) {
		return "", statusError(response)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return "", &Error{Kind: KindUnknown, Message: "chat api returned malformed message", Cause: err}
	}

	return payload.ID, nil
}

func (g *RESTGateway) AccessibleUsers(ctx context.Context, channelID string) ([]string, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("channel id is required")
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetPathParam("channelID", channelID).
		Get(g.baseURL + "/channels/{channelID}/members")
	if err != nil {
		return nil, transportError(err)
	}
	if response == nil {
		return nil, &Error{Kind: KindTransient, Message: "chat api returned empty response"}
	}
	if !isSuccessStatus(response.StatusCode()) {
		return nil, statusError(response)
	}

	var payload []memberPayload
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "chat api returned malformed member list", Cause: err}
	}

	users := make([]string, 0, len(payload))
	for _, member := range payload {
		if member.User.Bot || member.User.ID == "" {
			continue
		}
		users = append(users, member.User.ID)
	}

	return users, nil
}

// buildContent prefixes the text with one mention token per user, mentions on
// their own line so the reminder body stays readable.
func buildContent(mentionUserIDs []string, text string) string {
	if len(mentionUserIDs) == 0 {
		return text
	}

	tokens := make([]string, len(mentionUserIDs))
	for i, userID := range mentionUserIDs {
		tokens[i] = MentionToken(userID)
	}

	if text == "" {
		return strings.Join(tokens, " ")
	}
	return strings.Join(tokens, " ") + "\n" + text
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

func statusError(response *resty.Response) error {
	statusCode := response.StatusCode()

	return &Error{
		StatusCode: statusCode,
		Kind:       classifyStatus(statusCode),
		Message:    strings.TrimSpace(response.String()),
	}
}

func transportError(err error) error {
	kind := KindTransient
	if errors.Is(err, context.Canceled) {
		kind = KindUnknown
	}

	return &Error{
		Kind:    kind,
		Message: "chat api request failed",
		Cause:   err,
	}
}
