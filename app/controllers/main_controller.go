package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/integration"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/session"
)

// Pinger checks a backing service, usually the database.
type Pinger func(ctx context.Context) error

type MainController struct {
	svc      Integration
	sessions *session.Store
	ping     Pinger
	isDev    bool
}

func NewMainController(svc Integration, sessions *session.Store, ping Pinger, isDev bool) *MainController {
	return &MainController{svc: svc, sessions: sessions, ping: ping, isDev: isDev}
}

// HandleIndex shows the connection state and the install link.
func (mc *MainController) HandleIndex(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	status, err := mc.svc.Status(ctx)
	if err != nil {
		log.Errorf("[Main] Could not load connection status: %v", err)
		status = &integration.Status{}
	}

	return c.Render("index", fiber.Map{
		"Title":           "VoxRelay",
		"Status":          status,
		"StatusError":     err != nil,
		"SessionLocation": mc.sessions.Location(c),
		"Flash":           flash.Get(c),
		"IsDev":           mc.isDev,
		"Now":             time.Now(),
	}, "layouts/main")
}

// HandleHealthz is the liveness probe.
func (mc *MainController) HandleHealthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if mc.ping != nil {
		if err := mc.ping(ctx); err != nil {
			log.Errorf("[Main] Health check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
