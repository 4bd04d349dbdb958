package rest

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/debounce"
	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
)

type Messages struct {
	debouncer *debounce.Debouncer
}

func InitRestMessages(app fiber.Router, debouncer *debounce.Debouncer) Messages {
	handler := Messages{debouncer: debouncer}

	app.Post("/messages", handler.Receive)
	app.Get("/buffers", handler.PeekBuffer)
	app.Delete("/buffers", handler.ClearBuffer)

	return handler
}

// InboundMessageRequest is the webhook payload for one chat event.
type InboundMessageRequest struct {
	MessageID            string `json:"message_id"`
	TenantID             string `json:"tenant_id"`
	ConversationKey      string `json:"conversation_key"`
	Phone                string `json:"phone"`
	ContentType          string `json:"content_type"`
	Content              string `json:"content"`
	MediaURL             string `json:"media_url"`
	MediaDurationSeconds int    `json:"media_duration_seconds"`
	Timestamp            int64  `json:"timestamp"` // unix seconds; 0 means now
}

func (r InboundMessageRequest) Validate() error {
	return validation.Errors{
		"tenant_id":        validation.Validate(r.TenantID, validation.Required),
		"conversation_key": validation.Validate(r.ConversationKey, validation.Required),
		"phone":            validation.Validate(r.Phone, validation.Required),
		"content_type": validation.Validate(r.ContentType, validation.Required, validation.In(
			string(domain.ContentTypeText), string(domain.ContentTypeAudio),
			string(domain.ContentTypeImage), string(domain.ContentTypeVideo),
			string(domain.ContentTypeDocument))),
	}.Filter()
}

// Receive buffers one inbound message. A store outage answers 202 with a
// zero count: intake must keep acknowledging even when debouncing degrades.
func (h *Messages) Receive(c *fiber.Ctx) error {
	var req InboundMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseData{
			Status: 400, Code: "INVALID_PAYLOAD", Message: err.Error(),
		})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseData{
			Status: 400, Code: "VALIDATION_ERROR", Message: err.Error(),
		})
	}

	timestamp := time.Now().UTC()
	if req.Timestamp > 0 {
		timestamp = time.Unix(req.Timestamp, 0).UTC()
	}

	count, err := h.debouncer.Push(c.UserContext(), req.TenantID, domain.InboundMessage{
		MessageID:            req.MessageID,
		ConversationKey:      req.ConversationKey,
		Phone:                req.Phone,
		ContentType:          domain.ContentType(req.ContentType),
		Content:              req.Content,
		MediaURL:             req.MediaURL,
		MediaDurationSeconds: req.MediaDurationSeconds,
		Timestamp:            timestamp,
	})
	if err != nil && !errors.Is(err, debounce.ErrStoreUnavailable) {
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(ResponseData{
		Status:  202,
		Code:    "ACCEPTED",
		Message: "Message buffered",
		Results: fiber.Map{"buffered_count": count},
	})
}

// PeekBuffer returns the buffer length without consuming it.
func (h *Messages) PeekBuffer(c *fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	conversationKey := c.Query("conversation_key")
	if tenantID == "" || conversationKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseData{
			Status: 400, Code: "VALIDATION_ERROR",
			Message: "tenant_id and conversation_key are required",
		})
	}

	count := h.debouncer.Peek(c.UserContext(), tenantID, conversationKey)
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Buffer inspected",
		Results: fiber.Map{"buffered_count": count},
	})
}

// ClearBuffer force-discards a buffer, used when a human takes over a
// conversation mid-burst. No packet is emitted.
func (h *Messages) ClearBuffer(c *fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	conversationKey := c.Query("conversation_key")
	if tenantID == "" || conversationKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseData{
			Status: 400, Code: "VALIDATION_ERROR",
			Message: "tenant_id and conversation_key are required",
		})
	}

	cleared := h.debouncer.Clear(c.UserContext(), tenantID, conversationKey)
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Buffer cleared",
		Results: fiber.Map{"cleared": cleared},
	})
}
