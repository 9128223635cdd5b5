package constants

// Route constants shared by the routers and main
const (
	PublicRoute   = "/"
	LoginRoute    = "/login"
	CallbackRoute = "/callback"
	LogoutRoute   = "/logout"
	WebhookRoute  = "/webhook"
	HealthzRoute  = "/healthz"
	MetricsRoute  = "/metrics"

	APIRoute        = "/api"
	APIStatusRoute  = "/status"
	APIRefreshRoute = "/credentials/refresh"

	DocsBasePath = "/docs/api/"
	DocsPath     = "v1"
)
