package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
)

// CRM is the subset of the CRM client the pipeline writes through.
type CRM interface {
	ListCustomFields(ctx context.Context, token, locationID string) ([]crm.CustomField, error)
	CreateCustomField(ctx context.Context, token, locationID string, field crm.CustomField) (*crm.CustomField, error)
	UpdateContactField(ctx context.Context, token, contactID, fieldID, value string) error
	PostInboundMessage(ctx context.Context, token, conversationID, text, messageType string) (*crm.InboundMessageResult, error)
}

// FieldCache remembers field ids across events. Implementations must treat
// every error as a miss.
type FieldCache interface {
	FieldID(ctx context.Context, locationID string) (string, bool)
	SetFieldID(ctx context.Context, locationID, fieldID string)
	ForgetFieldID(ctx context.Context, locationID string)
}

// FieldResolver ensures the Transcription custom field exists for a location.
type FieldResolver struct {
	crm    CRM
	cache  FieldCache
	flight singleflight.Group
}

// NewFieldResolver creates a resolver. cache may be nil.
func NewFieldResolver(client CRM, cache FieldCache) *FieldResolver {
	return &FieldResolver{crm: client, cache: cache}
}

// Ensure returns the id of the Transcription field, creating it when the
// location has none. Concurrent calls for one location share a lookup.
func (r *FieldResolver) Ensure(ctx context.Context, token, locationID string) (string, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return "", errors.New("location id is required to resolve the transcription field")
	}
	if r.cache != nil {
		if id, ok := r.cache.FieldID(ctx, locationID); ok {
			return id, nil
		}
	}

	v, err, _ := r.flight.Do(locationID, func() (interface{}, error) {
		return r.lookupOrCreate(ctx, token, locationID)
	})
	if err != nil {
		return "", err
	}
	id := v.(string)
	if r.cache != nil {
		r.cache.SetFieldID(ctx, locationID, id)
	}
	return id, nil
}

// Forget drops a cached id, e.g. after the CRM reported the field missing.
func (r *FieldResolver) Forget(ctx context.Context, locationID string) {
	if r.cache != nil {
		r.cache.ForgetFieldID(ctx, locationID)
	}
}

func (r *FieldResolver) lookupOrCreate(ctx context.Context, token, locationID string) (string, error) {
	fields, err := r.crm.ListCustomFields(ctx, token, locationID)
	if err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.Name == crm.TranscriptionFieldName && f.ID != "" {
			return f.ID, nil
		}
	}

	created, err := r.crm.CreateCustomField(ctx, token, locationID, crm.TranscriptionField())
	if err != nil {
		return "", err
	}
	log.Infof("[Pipeline] Created %s field %s for location %s", crm.TranscriptionFieldName, created.ID, locationID)
	return created.ID, nil
}
