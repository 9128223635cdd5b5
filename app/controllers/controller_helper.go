package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VoxRelay/app/models"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/integration"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

// Integration is satisfied by *integration.Service.
type Integration interface {
	CompleteAuthorization(ctx context.Context, code string) (*models.Credential, error)
	AcceptWebhook(ctx context.Context, body []byte) (*integration.Accepted, error)
	Status(ctx context.Context) (*integration.Status, error)
	Refresh(ctx context.Context) (*models.Credential, error)
}

// credentialUnavailable reports errors that clear up once an operator
// re-authorizes or the token endpoint recovers.
func credentialUnavailable(err error) bool {
	var noCred *credentials.NoCredentialError
	var refresh *credentials.RefreshError
	return errors.As(err, &noCred) || errors.As(err, &refresh)
}

// webhookStatus maps a webhook handling error to the HTTP status the CRM sees.
func webhookStatus(err error) int {
	switch webhook.Classify(err) {
	case webhook.ClassNone:
		return fiber.StatusOK
	case webhook.ClassCaller:
		return fiber.StatusBadRequest
	case webhook.ClassUnauthorized:
		return fiber.StatusUnauthorized
	case webhook.ClassConflict:
		return fiber.StatusConflict
	}
	if credentialUnavailable(err) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}
