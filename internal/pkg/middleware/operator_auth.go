package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

// OptionalBasicAuth guards a route with basic auth when a password is
// configured and passes everything through otherwise.
func OptionalBasicAuth(user, password string) fiber.Handler {
	if password == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return basicAuth(user, password)
}

// RequireBasicAuth guards operator endpoints. Without a configured password
// the endpoint is disabled.
func RequireBasicAuth(user, password string) fiber.Handler {
	if password == "" {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "operator endpoints are disabled, set METRICS_PASSWORD",
			})
		}
	}
	return basicAuth(user, password)
}

func basicAuth(user, password string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="voxrelay"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "valid credentials required",
			})
		},
	})
}
