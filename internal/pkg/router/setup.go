package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VoxRelay/app/controllers"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries everything the routers mount.
type Options struct {
	Main    *controllers.MainController
	OAuth   *controllers.OAuthController
	Webhook *controllers.WebhookController
	API     *controllers.APIController

	// Verifier checks webhook signatures; nil disables the check.
	Verifier *webhook.Verifier

	OperatorUser     string
	OperatorPassword string
}

func InstallRouter(app *fiber.App, opts Options) {
	setup(app, NewHttpRouter(opts), NewApiRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
