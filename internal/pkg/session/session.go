package session

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"
	"github.com/google/uuid"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

const (
	StateKey    = "oauth_state"
	LocationKey = "location_id"

	// sessions live in their own Redis database, the cache uses DB 0
	redisDatabase = 1
)

// ErrStateMismatch is returned when the OAuth callback carries a state the
// session did not issue.
var ErrStateMismatch = errors.New("oauth state mismatch")

// NewSessionStore returns a fiber session store backed by Redis.
func NewSessionStore(cfg *config.Config) *session.Store {
	port, err := strconv.Atoi(cfg.CachePort)
	if err != nil {
		port = 6379
	}

	storage := redis.New(redis.Config{
		Host:     cfg.CacheHost,
		Port:     port,
		Password: cfg.CachePassword,
		Database: redisDatabase,
		Reset:    false,
	})

	return session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   !cfg.IsDev(),
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:voxrelay_session",
	})
}

// CookieKey derives an encryptcookie key from SESSION_SECRET.
func CookieKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Store wraps the session store with the values the OAuth flow keeps.
type Store struct {
	store *session.Store
}

func New(store *session.Store) *Store {
	return &Store{store: store}
}

// BeginOAuth issues a fresh state value and remembers it for the callback.
func (s *Store) BeginOAuth(c *fiber.Ctx) (string, error) {
	sess, err := s.store.Get(c)
	if err != nil {
		return "", err
	}
	state := uuid.NewString()
	sess.Set(StateKey, state)
	if err := sess.Save(); err != nil {
		return "", err
	}
	return state, nil
}

// ConsumeState checks state against the issued one. The stored value is
// cleared either way so a state can only be used once.
func (s *Store) ConsumeState(c *fiber.Ctx, state string) error {
	sess, err := s.store.Get(c)
	if err != nil {
		return err
	}
	issued, _ := sess.Get(StateKey).(string)
	sess.Delete(StateKey)
	if err := sess.Save(); err != nil {
		return err
	}
	if issued == "" || state == "" || issued != state {
		return ErrStateMismatch
	}
	return nil
}

func (s *Store) SetLocation(c *fiber.Ctx, locationID string) error {
	sess, err := s.store.Get(c)
	if err != nil {
		return err
	}
	sess.Set(LocationKey, locationID)
	return sess.Save()
}

func (s *Store) Location(c *fiber.Ctx) string {
	sess, err := s.store.Get(c)
	if err != nil {
		return ""
	}
	loc, _ := sess.Get(LocationKey).(string)
	return loc
}

func (s *Store) Destroy(c *fiber.Ctx) error {
	sess, err := s.store.Get(c)
	if err != nil {
		return err
	}
	return sess.Destroy()
}
