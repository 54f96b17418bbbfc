package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/observability"
	"reaction-reminder/internal/queue"
	"reaction-reminder/internal/service"
)

const defaultLogLimit = 50

// WatchService is the surface of the watch service the HTTP layer depends on.
type WatchService interface {
	Watch(ctx context.Context, req service.WatchRequest) (*domain.WatchedItem, error)
	Unwatch(ctx context.Context, itemID, guildID string) (bool, error)
	List(ctx context.Context, guildID string) ([]domain.WatchedItem, error)
	Pause(ctx context.Context, itemID, guildID string) (bool, error)
	Resume(ctx context.Context, itemID, guildID string) (bool, error)
	Logs(ctx context.Context, itemID string, limit int) ([]domain.ReminderLog, error)
	ForceCheck(ctx context.Context) (service.CheckResult, error)
	Status() service.SchedulerStatus
	Statistics(ctx context.Context) (service.Statistics, error)
	ReactionStyle(ctx context.Context, guildID string) (domain.ReactionStyle, error)
	SetReactionStyle(ctx context.Context, guildID string, style domain.ReactionStyle) error
	IngestReaction(ctx context.Context, event queue.ReactionEvent) error
}

type WatchHandler struct {
	service WatchService
}

func NewWatchHandler(service WatchService) (*WatchHandler, error) {
	if service == nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "watch service is required")
	}
	return &WatchHandler{service: service}, nil
}

// RegisterWatchRoutes mounts the versioned API on router.
func RegisterWatchRoutes(router fiber.Router, service WatchService) error {
	handler, err := NewWatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/watches", handler.CreateWatch)
	v1.Get("/watches", handler.ListWatches)
	v1.Delete("/watches/:itemId", handler.DeleteWatch)
	v1.Post("/watches/:itemId/pause", handler.PauseWatch)
	v1.Post("/watches/:itemId/resume", handler.ResumeWatch)
	v1.Get("/watches/:itemId/logs", handler.ListWatchLogs)
	v1.Post("/reactions", handler.IngestReaction)
	v1.Post("/checks", handler.RunCheck)
	v1.Get("/status", handler.GetStatus)
	v1.Get("/statistics", handler.GetStatistics)
	v1.Get("/guilds/:guildId/reaction-style", handler.GetReactionStyle)
	v1.Put("/guilds/:guildId/reaction-style", handler.PutReactionStyle)

	return nil
}

type watchRequest struct {
	ItemID          string `json:"itemId"`
	ChannelID       string `json:"channelId"`
	GuildID         string `json:"guildId"`
	Title           string `json:"title"`
	IntervalMinutes int    `json:"intervalMinutes"`
}

type watchedItemResponse struct {
	ItemID            string     `json:"itemId"`
	ChannelID         string     `json:"channelId"`
	GuildID           string     `json:"guildId"`
	Title             string     `json:"title"`
	IntervalMinutes   int        `json:"intervalMinutes"`
	IsPaused          bool       `json:"isPaused"`
	LastReminderAt    *time.Time `json:"lastReminderAt,omitempty"`
	NextReminderAt    *time.Time `json:"nextReminderAt,omitempty"`
	RespondedUserIDs  []string   `json:"respondedUserIds"`
	AccessibleUserIDs []string   `json:"accessibleUserIds"`
	MissingUserIDs    []string   `json:"missingUserIds"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type listWatchesResponse struct {
	Data  []watchedItemResponse `json:"data"`
	Total int                   `json:"total"`
}

type reminderLogResponse struct {
	ID             string     `json:"id"`
	ItemID         string     `json:"itemId"`
	GuildID        string     `json:"guildId"`
	ScheduledAt    time.Time  `json:"scheduledAt"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	RecipientCount int        `json:"recipientCount"`
	Status         string     `json:"status"`
	ErrorDetail    *string    `json:"errorDetail,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type listLogsResponse struct {
	Data []reminderLogResponse `json:"data"`
}

type schedulerStatusResponse struct {
	State              string     `json:"state"`
	NextCheckAt        *time.Time `json:"nextCheckAt,omitempty"`
	LastReminderSentAt *time.Time `json:"lastReminderSentAt,omitempty"`
}

type statisticsResponse struct {
	TotalItems            int64  `json:"totalItems"`
	ActiveItems           int64  `json:"activeItems"`
	NextReminderInSeconds *int64 `json:"nextReminderInSeconds,omitempty"`
}

type reactionStyleRequest struct {
	Symbols  []string `json:"symbols"`
	Meanings []string `json:"meanings"`
}

type reactionStyleResponse struct {
	Symbols         []string `json:"symbols"`
	Meanings        []string `json:"meanings"`
	InstructionText string   `json:"instructionText"`
}

// CreateWatch registers a message for reaction tracking, or updates the
// watch when the message is already tracked.
func (h *WatchHandler) CreateWatch(c *fiber.Ctx) error {
	var req watchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	item, err := h.service.Watch(c.Context(), service.WatchRequest{
		ItemID:          req.ItemID,
		ChannelID:       req.ChannelID,
		GuildID:         req.GuildID,
		Title:           req.Title,
		IntervalMinutes: req.IntervalMinutes,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toWatchedItemResponse(*item))
}

func (h *WatchHandler) ListWatches(c *fiber.Ctx) error {
	guildID := strings.TrimSpace(c.Query("guildId"))
	if guildID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "guildId query parameter is required")
	}

	items, err := h.service.List(c.Context(), guildID)
	if err != nil {
		return err
	}

	resp := listWatchesResponse{
		Data:  make([]watchedItemResponse, 0, len(items)),
		Total: len(items),
	}
	for _, item := range items {
		resp.Data = append(resp.Data, toWatchedItemResponse(item))
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *WatchHandler) DeleteWatch(c *fiber.Ctx) error {
	itemID, guildID, err := itemAndGuildParams(c)
	if err != nil {
		return err
	}

	removed, err := h.service.Unwatch(c.Context(), itemID, guildID)
	if err != nil {
		return err
	}
	if !removed {
		return fiber.NewError(fiber.StatusNotFound, "watched item not found")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"itemId": itemID, "removed": true})
}

func (h *WatchHandler) PauseWatch(c *fiber.Ctx) error {
	return h.setPaused(c, true)
}

func (h *WatchHandler) ResumeWatch(c *fiber.Ctx) error {
	return h.setPaused(c, false)
}

func (h *WatchHandler) setPaused(c *fiber.Ctx, paused bool) error {
	itemID, guildID, err := itemAndGuildParams(c)
	if err != nil {
		return err
	}

	var updated bool
	if paused {
		updated, err = h.service.Pause(c.Context(), itemID, guildID)
	} else {
		updated, err = h.service.Resume(c.Context(), itemID, guildID)
	}
	if err != nil {
		return err
	}
	if !updated {
		return fiber.NewError(fiber.StatusNotFound, "watched item not found")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"itemId": itemID, "isPaused": paused})
}

func (h *WatchHandler) ListWatchLogs(c *fiber.Ctx) error {
	itemID := strings.TrimSpace(c.Params("itemId"))
	if itemID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "item id is required")
	}
	limit := c.QueryInt("limit", defaultLogLimit)

	logs, err := h.service.Logs(c.Context(), itemID, limit)
	if err != nil {
		return err
	}

	resp := listLogsResponse{Data: make([]reminderLogResponse, 0, len(logs))}
	for _, entry := range logs {
		resp.Data = append(resp.Data, toReminderLogResponse(entry))
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// IngestReaction accepts a reaction event over HTTP and hands it to the
// broker. The chat platform webhook posts here.
func (h *WatchHandler) IngestReaction(c *fiber.Ctx) error {
	var event queue.ReactionEvent
	if err := c.BodyParser(&event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var ctx context.Context = c.Context()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	if err := h.service.IngestReaction(ctx, event); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// requestCorrelationID extracts the inbound request id, either from the
// X-Request-ID header or from the requestid middleware local.
func requestCorrelationID(c *fiber.Ctx) string {
	if headerID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); headerID != "" {
		return headerID
	}
	if localID, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(localID)
	}
	return ""
}

// RunCheck triggers a reminder pass immediately and reports its outcome.
func (h *WatchHandler) RunCheck(c *fiber.Ctx) error {
	result, err := h.service.ForceCheck(c.Context())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *WatchHandler) GetStatus(c *fiber.Ctx) error {
	status := h.service.Status()
	return c.Status(fiber.StatusOK).JSON(schedulerStatusResponse{
		State:              string(status.State),
		NextCheckAt:        status.NextCheckAt,
		LastReminderSentAt: status.LastReminderSentAt,
	})
}

func (h *WatchHandler) GetStatistics(c *fiber.Ctx) error {
	stats, err := h.service.Statistics(c.Context())
	if err != nil {
		return err
	}

	resp := statisticsResponse{
		TotalItems:  stats.TotalItems,
		ActiveItems: stats.ActiveItems,
	}
	if stats.NextReminderIn != nil {
		seconds := int64(stats.NextReminderIn.Seconds())
		resp.NextReminderInSeconds = &seconds
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *WatchHandler) GetReactionStyle(c *fiber.Ctx) error {
	guildID := strings.TrimSpace(c.Params("guildId"))
	if guildID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "guild id is required")
	}

	style, err := h.service.ReactionStyle(c.Context(), guildID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toReactionStyleResponse(style))
}

func (h *WatchHandler) PutReactionStyle(c *fiber.Ctx) error {
	guildID := strings.TrimSpace(c.Params("guildId"))
	if guildID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "guild id is required")
	}

	var req reactionStyleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	style := domain.ReactionStyle{Symbols: req.Symbols, Meanings: req.Meanings}
	if err := h.service.SetReactionStyle(c.Context(), guildID, style); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toReactionStyleResponse(style))
}

func itemAndGuildParams(c *fiber.Ctx) (string, string, error) {
	itemID := strings.TrimSpace(c.Params("itemId"))
	if itemID == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "item id is required")
	}
	guildID := strings.TrimSpace(c.Query("guildId"))
	if guildID == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "guildId query parameter is required")
	}
	return itemID, guildID, nil
}

func toWatchedItemResponse(item domain.WatchedItem) watchedItemResponse {
	resp := watchedItemResponse{
		ItemID:            item.ItemID,
		ChannelID:         item.ChannelID,
		GuildID:           item.GuildID,
		Title:             item.Title,
		IntervalMinutes:   item.IntervalMinutes,
		IsPaused:          item.IsPaused,
		LastReminderAt:    item.LastReminderAt,
		RespondedUserIDs:  item.RespondedUserIDs,
		AccessibleUserIDs: item.AccessibleUserIDs,
		MissingUserIDs:    item.MissingResponders(),
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}
	// Paused items have no upcoming reminder; a zero next-due time means the
	// item is picked up on the very next pass.
	if !item.IsPaused {
		if next := item.NextDueAt(); !next.IsZero() {
			resp.NextReminderAt = &next
		}
	}
	return resp
}

func toReminderLogResponse(entry domain.ReminderLog) reminderLogResponse {
	return reminderLogResponse{
		ID:             entry.ID,
		ItemID:         entry.ItemID,
		GuildID:        entry.GuildID,
		ScheduledAt:    entry.ScheduledAt,
		SentAt:         entry.SentAt,
		RecipientCount: entry.RecipientCount,
		Status:         entry.Status.String(),
		ErrorDetail:    entry.ErrorDetail,
		CreatedAt:      entry.CreatedAt,
	}
}

func toReactionStyleResponse(style domain.ReactionStyle) reactionStyleResponse {
	resolved := style.ResolveMeanings()
	return reactionStyleResponse{
		Symbols:         resolved.Symbols,
		Meanings:        resolved.Meanings,
		InstructionText: resolved.InstructionText(),
	}
}
