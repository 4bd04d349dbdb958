// Package rest exposes the operational HTTP surface: health, inbound message
// intake, buffer diagnostics and campaign/re-engagement controls. Tenant CRM
// CRUD lives elsewhere; this API is for the message-flow core only.
package rest

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ericsoncardosoweb/apollo-ai/campaign"
	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/valkey"
	"github.com/ericsoncardosoweb/apollo-ai/messaging/debounce"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/convworker"
	"github.com/ericsoncardosoweb/apollo-ai/reengagement"
	"github.com/ericsoncardosoweb/apollo-ai/ui/rest/middleware"
)

// Deps are the long-lived components the API surfaces.
type Deps struct {
	Valkey     *valkey.Client
	DB         *gorm.DB
	Debouncer  *debounce.Debouncer
	Pool       *convworker.Pool
	Watchdog   *reengagement.Watchdog
	Dispatcher *campaign.Dispatcher
}

// NewApp builds the fiber application with all ops routes registered.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(middleware.Recovery())

	api := app.Group("/api")

	InitRestHealth(api, deps.Valkey, deps.DB)
	InitRestMessages(api, deps.Debouncer)
	InitRestWorkers(api, deps.Pool)
	InitRestReengagement(api, deps.Watchdog)
	InitRestCampaigns(api, deps.Dispatcher)

	return app
}
