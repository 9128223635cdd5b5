package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/constants"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get(constants.PublicRoute, h.opts.Main.HandleIndex)
	app.Get(constants.HealthzRoute, h.opts.Main.HandleHealthz)

	// Marketplace OAuth
	app.Get(constants.LoginRoute, h.opts.OAuth.HandleLogin)
	app.Get(constants.CallbackRoute, h.opts.OAuth.HandleCallback)
	app.Get(constants.LogoutRoute, h.opts.OAuth.HandleLogout)

	// CRM webhooks (no session, signature-verified when a key is configured)
	app.Post(constants.WebhookRoute, middleware.WebhookSignature(h.opts.Verifier), h.opts.Webhook.HandleWebhook)
}
