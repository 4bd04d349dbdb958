package rest

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/valkey"
)

type Health struct {
	valkey *valkey.Client
	db     *gorm.DB
}

func InitRestHealth(app fiber.Router, valkeyClient *valkey.Client, db *gorm.DB) Health {
	handler := Health{valkey: valkeyClient, db: db}
	app.Get("/health", handler.GetStatus)
	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	checks := fiber.Map{
		"valkey":   "ok",
		"database": "ok",
	}
	healthy := true

	if h.valkey == nil || h.valkey.Ping(c.UserContext()) != nil {
		checks["valkey"] = "unreachable"
		healthy = false
	}

	if h.db == nil {
		checks["database"] = "unreachable"
		healthy = false
	} else if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
		checks["database"] = "unreachable"
		healthy = false
	}

	status := fiber.StatusOK
	code := "SUCCESS"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		code = "DEGRADED"
	}

	return c.Status(status).JSON(ResponseData{
		Status:  status,
		Code:    code,
		Message: "Health status retrieved",
		Results: checks,
	})
}
