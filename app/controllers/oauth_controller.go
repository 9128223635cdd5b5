package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/session"
)

const oauthTimeout = 30 * time.Second

// Authorizer builds the CRM consent URL. Satisfied by *crm.OAuthClient.
type Authorizer interface {
	AuthorizeURLWithState(state string) (string, error)
}

// ============================================================================
// OAUTH CONTROLLER
// ============================================================================

type OAuthController struct {
	svc        Integration
	sessions   *session.Store
	authorizer Authorizer
}

func NewOAuthController(svc Integration, sessions *session.Store, authorizer Authorizer) *OAuthController {
	return &OAuthController{svc: svc, sessions: sessions, authorizer: authorizer}
}

func (oc *OAuthController) redirectWithError(c *fiber.Ctx, message string) error {
	fm := fiber.Map{
		"type":    "error",
		"message": message,
	}
	return flash.WithError(c, fm).Redirect("/")
}

// HandleLogin starts the marketplace installation flow.
func (oc *OAuthController) HandleLogin(c *fiber.Ctx) error {
	state, err := oc.sessions.BeginOAuth(c)
	if err != nil {
		log.Errorf("[OAuth] Could not store state in session: %v", err)
		return oc.redirectWithError(c, "Could not start the authorization, please try again.")
	}

	target, err := oc.authorizer.AuthorizeURLWithState(state)
	if err != nil {
		log.Errorf("[OAuth] Could not build authorization URL: %v", err)
		return oc.redirectWithError(c, "Authorization is misconfigured.")
	}
	return c.Redirect(target, fiber.StatusFound)
}

// HandleCallback completes the flow: validates state, exchanges the code and
// stores the resulting credential.
func (oc *OAuthController) HandleCallback(c *fiber.Ctx) error {
	if denied := c.Query("error"); denied != "" {
		log.Warnf("[OAuth] Authorization was not granted: %s %s", denied, c.Query("error_description"))
		return oc.redirectWithError(c, "Authorization was not granted: "+denied)
	}

	if err := oc.sessions.ConsumeState(c, c.Query("state")); err != nil {
		if errors.Is(err, session.ErrStateMismatch) {
			log.Warnf("[OAuth] Callback from %s with unknown state", c.IP())
			return oc.redirectWithError(c, "The authorization request expired or was tampered with, please start again.")
		}
		log.Errorf("[OAuth] Session lookup failed: %v", err)
		return oc.redirectWithError(c, "Could not verify the authorization request.")
	}

	code := c.Query("code")
	if code == "" {
		return oc.redirectWithError(c, "The CRM did not send an authorization code.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), oauthTimeout)
	defer cancel()

	cred, err := oc.svc.CompleteAuthorization(ctx, code)
	if err != nil {
		log.Errorf("[OAuth] Code exchange failed: %v", err)
		var missing *credentials.MissingTokenError
		if errors.As(err, &missing) {
			return oc.redirectWithError(c, "The CRM answered without an access token.")
		}
		return oc.redirectWithError(c, "Could not complete the authorization with the CRM.")
	}

	if cred.HasLocation() {
		if err := oc.sessions.SetLocation(c, cred.Location()); err != nil {
			log.Warnf("[OAuth] Could not remember location in session: %v", err)
		}
	}

	fm := fiber.Map{
		"type":    "success",
		"message": "Connected. Voice messages will now be transcribed.",
	}
	return flash.WithSuccess(c, fm).Redirect("/")
}

func (oc *OAuthController) HandleLogout(c *fiber.Ctx) error {
	if err := oc.sessions.Destroy(c); err != nil {
		log.Warnf("[OAuth] Could not destroy session: %v", err)
	}
	return c.Redirect("/", fiber.StatusFound)
}
