package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

// WebhookSignature rejects webhook deliveries whose x-wh-signature header
// does not verify against the raw body. A nil verifier accepts everything.
func WebhookSignature(v *webhook.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := v.Verify(c.Body(), c.Get(webhook.SignatureHeader)); err != nil {
			log.Warnf("[Webhook] Rejected delivery from %s: %v", c.IP(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return c.Next()
	}
}
