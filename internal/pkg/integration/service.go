package integration

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/app/models"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

// Deduper remembers webhook ids that were already handled.
type Deduper interface {
	FirstDelivery(ctx context.Context, webhookID string) (bool, error)
	ForgetDelivery(ctx context.Context, webhookID string) error
}

// LocationLookup fetches location details for display.
type LocationLookup interface {
	GetLocation(ctx context.Context, token, locationID string) (*crm.Location, error)
}

// FieldEnsurer is satisfied by *pipeline.FieldResolver.
type FieldEnsurer interface {
	Ensure(ctx context.Context, token, locationID string) (string, error)
}

// Service is the entry point the HTTP layer and the job queue call into.
type Service struct {
	manager    *credentials.Manager
	dispatcher *webhook.Dispatcher
	fields     FieldEnsurer
	locations  LocationLookup
	dedupe     Deduper
	queue      Enqueuer
}

type Option func(*Service)

func WithDeduper(d Deduper) Option {
	return func(s *Service) { s.dedupe = d }
}

func WithLocationLookup(l LocationLookup) Option {
	return func(s *Service) { s.locations = l }
}

func WithFieldEnsurer(f FieldEnsurer) Option {
	return func(s *Service) { s.fields = f }
}

func NewService(manager *credentials.Manager, dispatcher *webhook.Dispatcher, opts ...Option) *Service {
	s := &Service{manager: manager, dispatcher: dispatcher}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Manager() *credentials.Manager {
	return s.manager
}

// CompleteAuthorization exchanges an OAuth code. When the token response
// already names the location, the Transcription field is prepared right away.
func (s *Service) CompleteAuthorization(ctx context.Context, code string) (*models.Credential, error) {
	cred, err := s.manager.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.fields != nil && cred.HasLocation() {
		if _, err := s.fields.Ensure(ctx, cred.AccessToken, cred.Location()); err != nil {
			log.Warnf("[Integration] Could not prepare transcription field for location %s: %v", cred.Location(), err)
		}
	}
	return cred, nil
}

func (s *Service) ValidToken(ctx context.Context) (string, error) {
	return s.manager.ValidToken(ctx)
}

// Refresh forces a refresh of the current credential regardless of expiry.
func (s *Service) Refresh(ctx context.Context) (*models.Credential, error) {
	cred, err := s.manager.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("[Integration] Credential refreshed on request, new record %d", cred.ID)
	return cred, nil
}

// HandleWebhookEvent dispatches one parsed event. A redelivered webhookId is
// acknowledged without processing it again.
func (s *Service) HandleWebhookEvent(ctx context.Context, ev *webhook.Event) (*webhook.Outcome, error) {
	route, err := ev.Route()
	if err != nil {
		return nil, err
	}

	claimed := false
	if s.dedupe != nil && ev.WebhookID != "" && route != webhook.RouteIgnore {
		first, err := s.dedupe.FirstDelivery(ctx, ev.WebhookID)
		switch {
		case err != nil:
			log.Warnf("[Integration] Duplicate check for webhook %s failed, processing anyway: %v", ev.WebhookID, err)
		case !first:
			log.Infof("[Integration] Webhook %s already handled, skipping", ev.WebhookID)
			return &webhook.Outcome{Route: route, LocationID: ev.LocationID, Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	out, err := s.dispatcher.Dispatch(ctx, ev)
	if err != nil && claimed && webhook.Classify(err) == webhook.ClassInternal {
		// Let the CRM's redelivery try again.
		if ferr := s.dedupe.ForgetDelivery(ctx, ev.WebhookID); ferr != nil {
			log.Warnf("[Integration] Could not release webhook %s: %v", ev.WebhookID, ferr)
		}
	}
	return out, err
}

// Status summarizes the connection for the index page and the API.
type Status struct {
	Connected    bool      `json:"connected"`
	CredentialID uint      `json:"credential_id,omitempty"`
	LocationID   string    `json:"location_id,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
	IssuedAt     time.Time `json:"issued_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Expired      bool      `json:"expired"`
	NeedsRefresh bool      `json:"needs_refresh"`
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	cred, err := s.manager.Current(ctx)
	var noCred *credentials.NoCredentialError
	if errors.As(err, &noCred) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	st := &Status{
		Connected:    true,
		CredentialID: cred.ID,
		LocationID:   cred.Location(),
		IssuedAt:     cred.IssuedAt,
		ExpiresAt:    cred.ExpiresAt,
		Expired:      cred.IsExpired(now),
		NeedsRefresh: cred.NeedsRefresh(now),
	}
	if s.locations != nil && cred.HasLocation() && !st.Expired {
		loc, err := s.locations.GetLocation(ctx, cred.AccessToken, cred.Location())
		if err != nil {
			log.Debugf("[Integration] Location lookup for %s failed: %v", cred.Location(), err)
		} else {
			st.LocationName = loc.Name
		}
	}
	return st, nil
}
