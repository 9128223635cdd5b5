package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/constants"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/middleware"
)

type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get(constants.APIStatusRoute,
		middleware.OptionalBasicAuth(h.opts.OperatorUser, h.opts.OperatorPassword),
		h.opts.API.HandleStatus)
	v1.Post(constants.APIRefreshRoute,
		middleware.RequireBasicAuth(h.opts.OperatorUser, h.opts.OperatorPassword),
		h.opts.API.HandleRefresh)
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}
