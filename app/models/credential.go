package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// RefreshWindow is how long before expiry a credential becomes due for refresh.
	RefreshWindow = time.Hour
	// DefaultExpiresIn is used when the token endpoint omits or zeroes expires_in.
	DefaultExpiresIn = 3600 * time.Second
)

// Credential stores one OAuth token pair issued by the CRM. Rows are never
// updated in place except for is_active, superseded_by and a one-time
// location back-fill.
type Credential struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccessToken  string    `gorm:"type:text;not null" json:"-" validate:"required"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	LocationID   *string   `gorm:"type:varchar(191);index" json:"location_id,omitempty" validate:"omitempty,max=191"`
	CompanyID    *string   `gorm:"type:varchar(191)" json:"company_id,omitempty" validate:"omitempty,max=191"`
	IssuedAt     time.Time `gorm:"not null;index" json:"issued_at"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at" validate:"gtfield=IssuedAt"`
	IsActive     bool      `gorm:"not null;index" json:"is_active"`
	SupersededBy *uint     `gorm:"default:null" json:"superseded_by,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Credential) TableName() string {
	return "credentials"
}

// Validate checks the struct before it is persisted.
func (c *Credential) Validate() error {
	return validator.New().Struct(c)
}

// IsExpired reports whether the access token can no longer be used at now.
func (c *Credential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// NeedsRefresh reports whether now falls inside the proactive refresh window.
func (c *Credential) NeedsRefresh(now time.Time) bool {
	return !now.Add(RefreshWindow).Before(c.ExpiresAt)
}

func (c *Credential) HasLocation() bool {
	return c.LocationID != nil && *c.LocationID != ""
}

// Location returns the bound location id or "".
func (c *Credential) Location() string {
	if c.LocationID == nil {
		return ""
	}
	return *c.LocationID
}

// TokenPrefix returns a short, log-safe prefix of the access token.
func (c *Credential) TokenPrefix() string {
	const n = 8
	if len(c.AccessToken) <= n {
		return "***"
	}
	return c.AccessToken[:n] + "..."
}

// ExpiresInDuration converts a token endpoint expires_in value, applying the default.
func ExpiresInDuration(expiresIn int64) time.Duration {
	if expiresIn <= 0 {
		return DefaultExpiresIn
	}
	return time.Duration(expiresIn) * time.Second
}
