package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

// DefaultWebhookTimeout bounds synchronous processing of one delivery,
// including every attachment in it.
const DefaultWebhookTimeout = 5 * time.Minute

// ============================================================================
// WEBHOOK CONTROLLER
// ============================================================================

type WebhookController struct {
	svc     Integration
	timeout time.Duration
}

func NewWebhookController(svc Integration, timeout time.Duration) *WebhookController {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookController{svc: svc, timeout: timeout}
}

// HandleWebhook receives CRM deliveries. The signature is checked by
// middleware before this runs.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	// Not tied to the request: the CRM may hang up before a slow
	// transcription finishes.
	ctx, cancel := context.WithTimeout(context.Background(), wc.timeout)
	defer cancel()

	accepted, err := wc.svc.AcceptWebhook(ctx, rawBody)
	if err != nil {
		status := webhookStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Errorf("[Webhook] Delivery failed (%d): %v", status, err)
			return c.Status(status).JSON(fiber.Map{"error": "processing_failed"})
		}
		log.Warnf("[Webhook] Delivery rejected (%d): %v", status, err)
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	resp := fiber.Map{"success": true}
	if accepted.JobID != "" {
		resp["job_id"] = accepted.JobID
	}
	if out := accepted.Outcome; out != nil {
		if out.Route == webhook.RouteIgnore {
			resp["ignored"] = true
		}
		if out.Duplicate {
			resp["duplicate"] = true
		}
		if out.Deferred {
			resp["deferred"] = true
		}
		if out.Report != nil {
			resp["transcriptions"] = len(out.Report.Transcriptions())
			resp["dropped"] = len(out.Report.Dropped())
		}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
