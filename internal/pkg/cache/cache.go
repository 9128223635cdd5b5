package cache

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

const (
	fieldKeyPrefix   = "voxrelay:field:"
	webhookKeyPrefix = "voxrelay:webhook:"

	// FieldTTL bounds how long a field id is trusted without a CRM lookup.
	FieldTTL = 24 * time.Hour
	// WebhookTTL is how long a delivered webhook id is remembered.
	WebhookTTL = 24 * time.Hour
)

// NewClient connects to the Redis compatible cache server. A failed ping is
// logged, not fatal: every cache user degrades to a miss.
func NewClient(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.CacheAddr(),
		Password: cfg.CachePassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", cfg.CacheAddr(), err)
	} else {
		log.Infof("[Cache] Connected to cache at %s", cfg.CacheAddr())
	}
	return client
}

// Cache holds the short-lived state shared between webhook deliveries.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// FieldID returns the cached Transcription field id for a location.
func (c *Cache) FieldID(ctx context.Context, locationID string) (string, bool) {
	id, err := c.client.Get(ctx, fieldKeyPrefix+locationID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Cache] Field id lookup for %s failed: %v", locationID, err)
		}
		return "", false
	}
	return id, id != ""
}

func (c *Cache) SetFieldID(ctx context.Context, locationID, fieldID string) {
	if err := c.client.Set(ctx, fieldKeyPrefix+locationID, fieldID, FieldTTL).Err(); err != nil {
		log.Warnf("[Cache] Could not store field id for %s: %v", locationID, err)
	}
}

func (c *Cache) ForgetFieldID(ctx context.Context, locationID string) {
	if err := c.client.Del(ctx, fieldKeyPrefix+locationID).Err(); err != nil {
		log.Warnf("[Cache] Could not drop field id for %s: %v", locationID, err)
	}
}

// FirstDelivery records webhookID and reports whether this is the first time
// it was seen within WebhookTTL.
func (c *Cache) FirstDelivery(ctx context.Context, webhookID string) (bool, error) {
	return c.client.SetNX(ctx, webhookKeyPrefix+webhookID, time.Now().Unix(), WebhookTTL).Result()
}

// ForgetDelivery releases a webhook id so a redelivery is processed again.
func (c *Cache) ForgetDelivery(ctx context.Context, webhookID string) error {
	return c.client.Del(ctx, webhookKeyPrefix+webhookID).Err()
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
