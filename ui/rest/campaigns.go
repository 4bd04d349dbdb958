package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ericsoncardosoweb/apollo-ai/campaign"
)

type Campaigns struct {
	dispatcher *campaign.Dispatcher
}

func InitRestCampaigns(app fiber.Router, dispatcher *campaign.Dispatcher) Campaigns {
	handler := Campaigns{dispatcher: dispatcher}

	group := app.Group("/campaigns")
	group.Get("/stats", handler.GetStats)
	group.Post("/:id/start", handler.Start)
	group.Post("/:id/pause", handler.Pause)
	group.Post("/:id/resume", handler.Resume)
	group.Post("/:id/cancel", handler.Cancel)

	return handler
}

// GetStats returns the dispatcher snapshot.
func (h *Campaigns) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.dispatcher.GetStats())
}

func (h *Campaigns) Start(c *fiber.Ctx) error {
	if err := h.dispatcher.StartCampaign(c.UserContext(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error(),
		})
	}
	return c.JSON(ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign started"})
}

func (h *Campaigns) Pause(c *fiber.Ctx) error {
	if err := h.dispatcher.Pause(c.UserContext(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error(),
		})
	}
	return c.JSON(ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign paused"})
}

func (h *Campaigns) Resume(c *fiber.Ctx) error {
	if err := h.dispatcher.Resume(c.UserContext(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error(),
		})
	}
	return c.JSON(ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign resumed"})
}

func (h *Campaigns) Cancel(c *fiber.Ctx) error {
	if err := h.dispatcher.Cancel(c.UserContext(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error(),
		})
	}
	return c.JSON(ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign cancelled"})
}
