package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ericsoncardosoweb/apollo-ai/pkg/convworker"
)

type Workers struct {
	pool *convworker.Pool
}

func InitRestWorkers(app fiber.Router, pool *convworker.Pool) Workers {
	handler := Workers{pool: pool}
	app.Get("/workers/stats", handler.GetStats)
	return handler
}

// GetStats returns real-time worker pool statistics.
func (h *Workers) GetStats(c *fiber.Ctx) error {
	if h.pool == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Worker pool not initialized",
		})
	}
	return c.JSON(h.pool.GetStats())
}
