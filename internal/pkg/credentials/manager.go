package credentials

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/VoxRelay/app/models"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
)

// refreshTimeout bounds a shared refresh, token request and write included.
const refreshTimeout = 30 * time.Second

// TokenSource is the OAuth token endpoint. *crm.OAuthClient implements it.
type TokenSource interface {
	ExchangeCode(ctx context.Context, code string) (*crm.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*crm.TokenResponse, error)
}

// Manager is the only component that talks to the token endpoint. It hands
// out usable access tokens and keeps the current credential fresh.
type Manager struct {
	store Store
	oauth TokenSource
	now   func() time.Time

	// lineage serializes Refresh, BindLocation and ExchangeCode writes.
	lineage sync.Mutex
	flight  singleflight.Group
}

type ManagerOption func(*Manager)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, oauth TokenSource, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, oauth: oauth, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExchangeCode trades an authorization code for a new current credential.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*models.Credential, error) {
	tok, err := m.oauth.ExchangeCode(ctx, code)
	if err != nil {
		if errors.Is(err, crm.ErrMissingAccessToken) {
			return nil, &MissingTokenError{Grant: crm.GrantAuthorizationCode}
		}
		return nil, &OAuthExchangeError{Err: err}
	}

	m.lineage.Lock()
	defer m.lineage.Unlock()

	cred, err := m.store.SaveGrant(ctx, grantFrom(tok))
	if err != nil {
		return nil, err
	}
	log.Infof("[Credentials] Stored credential %d (token=%s, location=%q, expires=%s)",
		cred.ID, cred.TokenPrefix(), cred.Location(), cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

// ValidToken returns an access token that is not expired at the moment of
// return, refreshing synchronously when needed.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	cred, err := m.current(ctx)
	if err != nil {
		return "", err
	}
	if !cred.IsExpired(m.now()) {
		return cred.AccessToken, nil
	}

	log.Infof("[Credentials] Credential %d expired at %s, refreshing", cred.ID, cred.ExpiresAt.Format(time.RFC3339))
	fresh, err := m.refreshFrom(ctx, cred.ID)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Refresh supersedes the current credential with a newly issued one.
func (m *Manager) Refresh(ctx context.Context) (*models.Credential, error) {
	cred, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	return m.refreshFrom(ctx, cred.ID)
}

// NeedsRefresh reports whether the current credential is inside the refresh window.
func (m *Manager) NeedsRefresh(ctx context.Context) (bool, error) {
	cred, err := m.current(ctx)
	if err != nil {
		return false, err
	}
	return cred.NeedsRefresh(m.now()), nil
}

// Tick is the periodic sweep body. It refreshes ahead of expiry; errors are
// returned for the scheduler to log and retried on the next tick.
func (m *Manager) Tick(ctx context.Context) error {
	cred, err := m.store.Current(ctx)
	if errors.Is(err, ErrNotFound) {
		log.Debug("[Credentials] Sweep: no credential stored yet")
		return nil
	}
	if err != nil {
		return err
	}
	if !cred.NeedsRefresh(m.now()) {
		return nil
	}

	log.Infof("[Credentials] Sweep: credential %d expires at %s, refreshing", cred.ID, cred.ExpiresAt.Format(time.RFC3339))
	_, err = m.refreshFrom(ctx, cred.ID)
	return err
}

// BindLocation attaches locationID to the current credential.
func (m *Manager) BindLocation(ctx context.Context, locationID string) (*models.Credential, error) {
	m.lineage.Lock()
	defer m.lineage.Unlock()

	cred, err := m.store.BindLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	log.Infof("[Credentials] Credential %d bound to location %s", cred.ID, cred.Location())
	return cred, nil
}

// Current returns the current credential without touching the token endpoint.
func (m *Manager) Current(ctx context.Context) (*models.Credential, error) {
	return m.current(ctx)
}

func (m *Manager) History(ctx context.Context, limit int) ([]models.Credential, error) {
	return m.store.History(ctx, limit)
}

func (m *Manager) current(ctx context.Context) (*models.Credential, error) {
	cred, err := m.store.Current(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, &NoCredentialError{Reason: "no credential has been stored yet"}
	}
	return cred, err
}

// refreshFrom coalesces concurrent refreshes of the same base credential and
// holds the lineage lock for the token request so a refresh token is never
// spent twice. The shared refresh runs detached from any single caller; each
// caller still stops waiting when its own ctx ends.
func (m *Manager) refreshFrom(ctx context.Context, baseID uint) (*models.Credential, error) {
	ch := m.flight.DoChan(strconv.FormatUint(uint64(baseID), 10), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		m.lineage.Lock()
		defer m.lineage.Unlock()
		return m.refreshLocked(shared, baseID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Credential), nil
	}
}

func (m *Manager) refreshLocked(ctx context.Context, baseID uint) (*models.Credential, error) {
	cur, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	if cur.ID != baseID && !cur.IsExpired(m.now()) {
		// Someone else already replaced the base.
		return cur, nil
	}
	if cur.RefreshToken == "" {
		return nil, &NoCredentialError{Reason: "current credential has no refresh token"}
	}

	tok, err := m.oauth.RefreshToken(ctx, cur.RefreshToken)
	if err != nil {
		if errors.Is(err, crm.ErrMissingAccessToken) {
			err = &MissingTokenError{Grant: crm.GrantRefreshToken}
		}
		log.Errorf("[Credentials] Refresh of credential %d failed: %v", cur.ID, err)
		return nil, &RefreshError{CredentialID: cur.ID, Err: err}
	}

	next, err := m.store.Supersede(ctx, cur.ID, grantFrom(tok))
	if errors.Is(err, ErrStaleCredential) {
		// Another process won the race; use its result.
		latest, cerr := m.current(ctx)
		if cerr == nil && !latest.IsExpired(m.now()) {
			return latest, nil
		}
	}
	if err != nil {
		return nil, &RefreshError{CredentialID: cur.ID, Err: err}
	}
	if next.IsExpired(m.now()) {
		return nil, &RefreshError{CredentialID: cur.ID, Err: errors.New("token endpoint issued an already expired token")}
	}

	log.Infof("[Credentials] Credential %d superseded by %d (token=%s, expires=%s)",
		cur.ID, next.ID, next.TokenPrefix(), next.ExpiresAt.Format(time.RFC3339))
	return next, nil
}

func grantFrom(tok *crm.TokenResponse) Grant {
	g := Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    models.ExpiresInDuration(tok.ExpiresIn),
	}
	if tok.LocationID != "" {
		loc := tok.LocationID
		g.LocationID = &loc
	}
	if tok.CompanyID != "" {
		company := tok.CompanyID
		g.CompanyID = &company
	}
	return g
}
