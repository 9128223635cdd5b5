package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	userTypeLocation = "Location"
)

// OAuthClient talks to the token endpoint. It never retries: a stuck auth
// flow must fail fast.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthorizeURL string
	TokenURL     string

	HTTPClient *http.Client
}

func NewOAuthClient(cfg *config.Config) *OAuthClient {
	timeout := cfg.OAuthTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OAuthClient{
		ClientID:     strings.TrimSpace(cfg.GHLClientID),
		ClientSecret: strings.TrimSpace(cfg.GHLClientSecret),
		RedirectURI:  strings.TrimSpace(cfg.GHLRedirectURI),
		AuthorizeURL: strings.TrimSpace(cfg.GHLAuthURL),
		TokenURL:     strings.TrimSpace(cfg.GHLTokenURL),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AuthorizeURLWithState builds the location chooser URL the user is sent to.
func (c *OAuthClient) AuthorizeURLWithState(state string) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" {
		return "", errors.New("GHL_CLIENT_ID is not configured")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		return "", errors.New("GHL_REDIRECT_URI is not configured")
	}
	u, err := url.Parse(c.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid GHL_AUTH_URL: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("scope", strings.Join(Scopes, " "))
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &TokenError{Grant: GrantAuthorizationCode, Err: errors.New("oauth code is required")}
	}
	form := url.Values{}
	form.Set("code", code)
	return c.requestToken(ctx, GrantAuthorizationCode, form)
}

func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, &TokenError{Grant: GrantRefreshToken, Err: errors.New("refresh token is required")}
	}
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	return c.requestToken(ctx, GrantRefreshToken, form)
}

func (c *OAuthClient) requestToken(ctx context.Context, grant string, form url.Values) (*TokenResponse, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return nil, &TokenError{Grant: grant, Err: errors.New("GHL_CLIENT_ID/GHL_CLIENT_SECRET are not configured")}
	}

	form.Set("grant_type", grant)
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("redirect_uri", c.RedirectURI)
	form.Set("user_type", userTypeLocation)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenError{Grant: grant, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TokenError{Grant: grant, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenError{Grant: grant, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var out TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TokenError{Grant: grant, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, ErrMissingAccessToken
	}
	return &out, nil
}
