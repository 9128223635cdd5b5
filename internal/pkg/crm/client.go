package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

// Client performs single CRM API calls. Every method takes the bearer token
// to use, so callers control which credential snapshot a request runs with.
type Client struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	// Limiter throttles outgoing requests; nil disables throttling.
	Limiter *rate.Limiter
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.CRMTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		BaseURL:    strings.TrimRight(cfg.GHLAPIBaseURL, "/"),
		APIVersion: cfg.GHLAPIVersion,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.CRMRateLimit > 0 {
		burst := int(cfg.CRMRateLimit)
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.CRMRateLimit), burst)
	}
	return c
}

func (c *Client) GetLocation(ctx context.Context, token, locationID string) (*Location, error) {
	const op = "get_location"
	var out struct {
		Location *Location `json:"location"`
	}
	if err := c.do(ctx, op, token, http.MethodGet, "/locations/"+url.PathEscape(locationID), nil, &out); err != nil {
		return nil, err
	}
	if out.Location == nil {
		return nil, &UpstreamError{Op: op, Kind: KindOther, Err: errors.New("response has no location object")}
	}
	return out.Location, nil
}

func (c *Client) ListCustomFields(ctx context.Context, token, locationID string) ([]CustomField, error) {
	var out struct {
		CustomFields []CustomField `json:"customFields"`
	}
	path := "/locations/" + url.PathEscape(locationID) + "/customFields"
	if err := c.do(ctx, "list_custom_fields", token, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.CustomFields, nil
}

// CreateCustomField accepts both {"customField":{...}} and a bare field object in the response.
func (c *Client) CreateCustomField(ctx context.Context, token, locationID string, field CustomField) (*CustomField, error) {
	const op = "create_custom_field"
	var raw json.RawMessage
	path := "/locations/" + url.PathEscape(locationID) + "/customFields"
	if err := c.do(ctx, op, token, http.MethodPost, path, field, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		CustomField *CustomField `json:"customField"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.CustomField != nil && wrapped.CustomField.ID != "" {
		return wrapped.CustomField, nil
	}
	var bare CustomField
	if err := json.Unmarshal(raw, &bare); err == nil && bare.ID != "" {
		return &bare, nil
	}
	return nil, &UpstreamError{Op: op, Kind: KindOther, Body: truncate(string(raw), 512), Err: errors.New("response has no field id")}
}

func (c *Client) UpdateContactField(ctx context.Context, token, contactID, fieldID, value string) error {
	body := updateContactRequest{CustomFields: []contactFieldValue{{ID: fieldID, FieldValue: value}}}
	return c.do(ctx, "update_contact_field", token, http.MethodPut, "/contacts/"+url.PathEscape(contactID), body, nil)
}

func (c *Client) PostInboundMessage(ctx context.Context, token, conversationID, text, messageType string) (*InboundMessageResult, error) {
	body := InboundMessage{Type: messageType, ConversationID: conversationID, Message: text}
	var out InboundMessageResult
	if err := c.do(ctx, "post_inbound_message", token, http.MethodPost, "/conversations/messages/inbound", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, token, method, path string, in, out interface{}) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &UpstreamError{Op: op, Kind: KindAuth, Err: errors.New("access token is required")}
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return transportError(op, err)
		}
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &UpstreamError{Op: op, Kind: KindOther, Err: fmt.Errorf("encode request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return &UpstreamError{Op: op, Kind: KindOther, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", c.APIVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{Op: op, Kind: KindOther, StatusCode: resp.StatusCode, Body: truncate(string(body), 512), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
