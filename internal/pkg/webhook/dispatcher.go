package webhook

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/app/models"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/pipeline"
)

// Credentials is the part of the lifecycle manager the dispatcher uses.
type Credentials interface {
	ValidToken(ctx context.Context) (string, error)
	Current(ctx context.Context) (*models.Credential, error)
	BindLocation(ctx context.Context, locationID string) (*models.Credential, error)
}

// Runner processes the attachments of one message event.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Report
}

// FieldEnsurer pre-creates the Transcription field at installation.
type FieldEnsurer interface {
	Ensure(ctx context.Context, token, locationID string) (string, error)
}

// Outcome describes what handling an event did. Deferred is set for an
// INSTALL that arrived before any credential was stored.
type Outcome struct {
	Route      Route
	LocationID string
	Deferred   bool
	Duplicate  bool
	Report     *pipeline.Report
}

// Dispatcher routes webhook events to the lifecycle manager or the pipeline.
type Dispatcher struct {
	creds  Credentials
	runner Runner
	fields FieldEnsurer
}

func NewDispatcher(creds Credentials, runner Runner, fields FieldEnsurer) *Dispatcher {
	return &Dispatcher{creds: creds, runner: runner, fields: fields}
}

// Dispatch handles ev. Returned errors are meant for Classify.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) (*Outcome, error) {
	route, err := ev.Route()
	if err != nil {
		return nil, err
	}

	switch route {
	case RouteInstall:
		return d.install(ctx, ev)
	case RouteTranscribe:
		return d.transcribe(ctx, ev)
	default:
		log.Debugf("[Webhook] Ignoring event type=%q messageType=%q", ev.Type, ev.MessageType)
		return &Outcome{Route: RouteIgnore, LocationID: ev.LocationID}, nil
	}
}

func (d *Dispatcher) install(ctx context.Context, ev *Event) (*Outcome, error) {
	out := &Outcome{Route: RouteInstall, LocationID: ev.LocationID}

	_, err := d.creds.BindLocation(ctx, ev.LocationID)
	if isNoCredential(err) {
		log.Warnf("[Webhook] INSTALL for location %s before any credential was stored, nothing to bind", ev.LocationID)
		out.Deferred = true
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	if d.fields == nil {
		return out, nil
	}
	token, err := d.creds.ValidToken(ctx)
	if err != nil {
		log.Errorf("[Webhook] No usable token to prepare location %s: %v", ev.LocationID, err)
		return out, nil
	}
	if _, err := d.fields.Ensure(ctx, token, ev.LocationID); err != nil {
		log.Errorf("[Webhook] Could not ensure transcription field for location %s: %v", ev.LocationID, err)
	}
	return out, nil
}

func (d *Dispatcher) transcribe(ctx context.Context, ev *Event) (*Outcome, error) {
	// Snapshot for the whole event; a concurrent refresh does not affect it.
	token, err := d.creds.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	locationID := ev.LocationID
	if locationID == "" {
		if cred, err := d.creds.Current(ctx); err == nil {
			locationID = cred.Location()
		}
	}

	messageType, _ := CanonicalMessageType(ev.MessageType)
	report := d.runner.Run(ctx, pipeline.Request{
		Token:          token,
		LocationID:     locationID,
		ConversationID: ev.ConversationID,
		ContactID:      ev.ContactID,
		MessageType:    messageType,
		Attachments:    ev.Attachments,
	})
	log.Infof("[Webhook] Event %s: %d transcribed, %d dropped, %d delivery failure(s)",
		report.EventID, len(report.Transcriptions()), len(report.Dropped()), report.DeliveryFailures())

	return &Outcome{Route: RouteTranscribe, LocationID: locationID, Report: report}, nil
}

func isNoCredential(err error) bool {
	var noCred *credentials.NoCredentialError
	return errors.Is(err, credentials.ErrNotFound) || errors.As(err, &noCred)
}
