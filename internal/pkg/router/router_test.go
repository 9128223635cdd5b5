package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VoxRelay/app/controllers"
	"github.com/ManuelReschke/VoxRelay/app/models"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/integration"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/session"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

type stubIntegration struct{}

func (stubIntegration) CompleteAuthorization(ctx context.Context, code string) (*models.Credential, error) {
	return &models.Credential{ID: 1}, nil
}

func (stubIntegration) AcceptWebhook(ctx context.Context, body []byte) (*integration.Accepted, error) {
	return &integration.Accepted{Outcome: &webhook.Outcome{Route: webhook.RouteIgnore}}, nil
}

func (stubIntegration) Status(ctx context.Context) (*integration.Status, error) {
	return &integration.Status{}, nil
}

func (stubIntegration) Refresh(ctx context.Context) (*models.Credential, error) {
	return &models.Credential{ID: 2}, nil
}

func newRoutedApp(password string) *fiber.App {
	svc := stubIntegration{}
	sessions := session.New(fibersession.New())
	authorizer := &crm.OAuthClient{ClientID: "cid", RedirectURI: "http://cb", AuthorizeURL: "https://auth.example/choose"}

	app := fiber.New()
	InstallRouter(app, Options{
		Main:             controllers.NewMainController(svc, sessions, nil, false),
		OAuth:            controllers.NewOAuthController(svc, sessions, authorizer),
		Webhook:          controllers.NewWebhookController(svc, 0),
		API:              controllers.NewAPIController(svc, nil, nil),
		OperatorUser:     "admin",
		OperatorPassword: password,
	})
	return app
}

func TestRoutesAreMounted(t *testing.T) {
	app := newRoutedApp("pw")

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", fiber.StatusOK},
		{http.MethodGet, "/login", fiber.StatusFound},
		{http.MethodGet, "/logout", fiber.StatusFound},
		{http.MethodPost, "/webhook", fiber.StatusOK},
		{http.MethodGet, "/api/", fiber.StatusOK},
		{http.MethodGet, "/api/v1/status", fiber.StatusUnauthorized},
		{http.MethodPost, "/api/v1/credentials/refresh", fiber.StatusUnauthorized},
		{http.MethodGet, "/nope", fiber.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"type":"ContactCreate"}`))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestOperatorRoutes(t *testing.T) {
	app := newRoutedApp("pw")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/refresh", nil)
	req.SetBasicAuth("admin", "pw")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Without a password the status stays readable and refresh is disabled.
	app = newRoutedApp("")
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/credentials/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
