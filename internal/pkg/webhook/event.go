package webhook

import (
	"encoding/json"
	"strings"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/pipeline"
)

const (
	TypeInstall         = "INSTALL"
	TypeInboundMessage  = "InboundMessage"
	TypeOutboundMessage = "OutboundMessage"
)

// messageTypes maps the lower-cased form of every recognized messageType to
// its canonical spelling.
var messageTypes = map[string]string{
	"sms":       "SMS",
	"call":      "CALL",
	"email":     "Email",
	"gmb":       "GMB",
	"fb":        "FB",
	"ig":        "IG",
	"live_chat": "Live_Chat",
	"whatsapp":  "WhatsApp",
	"custom":    "Custom",
}

// Event is a webhook delivery from the CRM. Only the fields routing needs
// are decoded.
type Event struct {
	Type           string                `json:"type"`
	MessageType    string                `json:"messageType,omitempty"`
	LocationID     string                `json:"locationId,omitempty"`
	ConversationID string                `json:"conversationId,omitempty"`
	ContactID      string                `json:"contactId,omitempty"`
	WebhookID      string                `json:"webhookId,omitempty"`
	Attachments    []pipeline.Attachment `json:"attachments,omitempty"`
}

// Parse decodes a webhook body. Any decoding problem is a caller fault.
func Parse(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &MalformedEventError{Reason: "body is not a valid event", Err: err}
	}
	ev.Type = strings.TrimSpace(ev.Type)
	ev.MessageType = strings.TrimSpace(ev.MessageType)
	ev.LocationID = strings.TrimSpace(ev.LocationID)
	ev.ConversationID = strings.TrimSpace(ev.ConversationID)
	ev.ContactID = strings.TrimSpace(ev.ContactID)
	return &ev, nil
}

// CanonicalMessageType returns the canonical spelling of mt and whether it is
// one the pipeline handles.
func CanonicalMessageType(mt string) (string, bool) {
	canonical, ok := messageTypes[strings.ToLower(strings.TrimSpace(mt))]
	return canonical, ok
}

// Route is what the dispatcher decided to do with an event.
type Route string

const (
	RouteInstall    Route = "install"
	RouteTranscribe Route = "transcribe"
	RouteIgnore     Route = "ignore"
)

// Route decides what to do with ev without side effects. Malformed events
// return a *MalformedEventError.
func (ev *Event) Route() (Route, error) {
	if strings.EqualFold(ev.Type, TypeInstall) {
		if ev.LocationID == "" {
			return "", &MalformedEventError{Reason: "INSTALL event without locationId"}
		}
		return RouteInstall, nil
	}

	if ev.MessageType == "" {
		if ev.Type == TypeInboundMessage || ev.Type == TypeOutboundMessage {
			return "", &MalformedEventError{Reason: ev.Type + " event without messageType"}
		}
		return RouteIgnore, nil
	}
	if ev.ConversationID == "" {
		return "", &MalformedEventError{Reason: "message event without conversationId"}
	}
	if _, ok := CanonicalMessageType(ev.MessageType); !ok || len(ev.Attachments) == 0 {
		return RouteIgnore, nil
	}
	return RouteTranscribe, nil
}
