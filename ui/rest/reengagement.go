package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ericsoncardosoweb/apollo-ai/reengagement"
)

type Reengagement struct {
	watchdog *reengagement.Watchdog
}

func InitRestReengagement(app fiber.Router, watchdog *reengagement.Watchdog) Reengagement {
	handler := Reengagement{watchdog: watchdog}
	app.Post("/reengagement/trigger", handler.TriggerManual)
	return handler
}

type triggerRequest struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
}

// TriggerManual fires a re-engagement event for one conversation on operator
// demand, bypassing silence and business-hours gates.
func (h *Reengagement) TriggerManual(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseData{
			Status: 400, Code: "INVALID_PAYLOAD", Message: err.Error(),
		})
	}
	if req.TenantID == "" || req.ConversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ResponseData{
			Status: 400, Code: "VALIDATION_ERROR",
			Message: "tenant_id and conversation_id are required",
		})
	}

	ok, err := h.watchdog.TriggerManual(c.UserContext(), req.TenantID, req.ConversationID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error(),
		})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ResponseData{
			Status: 404, Code: "NOT_FOUND", Message: "Conversation not found",
		})
	}

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Re-engagement triggered",
	})
}
