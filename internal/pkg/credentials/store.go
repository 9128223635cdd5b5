package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/VoxRelay/app/models"
)

// bindAttempts bounds the retry loop when a refresh swaps the current row mid-bind.
const bindAttempts = 3

// Grant is the data a token endpoint response contributes to a new credential.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	LocationID   *string
	CompanyID    *string
}

// Store persists credentials. Every method is transactional on its own.
type Store interface {
	Save(ctx context.Context, accessToken, refreshToken string, expiresIn time.Duration, locationID *string) (*models.Credential, error)
	SaveGrant(ctx context.Context, g Grant) (*models.Credential, error)
	Current(ctx context.Context) (*models.Credential, error)
	BindLocation(ctx context.Context, locationID string) (*models.Credential, error)
	Supersede(ctx context.Context, baseID uint, g Grant) (*models.Credential, error)
	History(ctx context.Context, limit int) ([]models.Credential, error)
}

type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

type StoreOption func(*gormStore)

// WithStoreClock overrides time.Now for issued_at/expires_at.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *gormStore) { s.now = now }
}

// NewStore creates a credential store backed by GORM.
func NewStore(db *gorm.DB, opts ...StoreOption) Store {
	s := &gormStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *gormStore) Save(ctx context.Context, accessToken, refreshToken string, expiresIn time.Duration, locationID *string) (*models.Credential, error) {
	return s.SaveGrant(ctx, Grant{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		LocationID:   locationID,
	})
}

func (s *gormStore) SaveGrant(ctx context.Context, g Grant) (*models.Credential, error) {
	cred, err := s.build(g)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cred).Error; err != nil {
			return err
		}
		return deactivateOthers(tx, cred.ID)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "save", Err: err}
	}
	return cred, nil
}

func (s *gormStore) Current(ctx context.Context) (*models.Credential, error) {
	cred, err := current(s.db.WithContext(ctx), false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "current", Err: err}
	}
	return cred, nil
}

func (s *gormStore) BindLocation(ctx context.Context, locationID string) (*models.Credential, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, &ValidationError{Err: errors.New("location_id is required")}
	}

	for attempt := 0; attempt < bindAttempts; attempt++ {
		var bound *models.Credential
		var retry bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			cred, err := current(tx, true)
			if err != nil {
				return err
			}
			if cred.HasLocation() {
				if cred.Location() != locationID {
					return &ConflictError{Bound: cred.Location(), Requested: locationID}
				}
				bound = cred
				return nil
			}

			res := tx.Model(&models.Credential{}).
				Where("id = ? AND is_active = ? AND (location_id IS NULL OR location_id = ?)", cred.ID, true, "").
				Update("location_id", locationID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Superseded or bound between read and write.
				retry = true
				return nil
			}
			cred.LocationID = &locationID
			bound = cred
			return nil
		})
		if err != nil {
			var conflict *ConflictError
			if errors.Is(err, ErrNotFound) || errors.As(err, &conflict) {
				return nil, err
			}
			return nil, &PersistenceError{Op: "bind_location", Err: err}
		}
		if !retry {
			return bound, nil
		}
	}
	return nil, &PersistenceError{Op: "bind_location", Err: errors.New("current credential kept changing")}
}

func (s *gormStore) Supersede(ctx context.Context, baseID uint, g Grant) (*models.Credential, error) {
	var next *models.Credential
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var base models.Credential
		if err := lockRow(tx).First(&base, baseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaleCredential
			}
			return err
		}
		if !base.IsActive {
			return ErrStaleCredential
		}

		if strings.TrimSpace(g.RefreshToken) == "" {
			g.RefreshToken = base.RefreshToken
		}
		if base.HasLocation() {
			if g.LocationID != nil && *g.LocationID != base.Location() {
				log.Warnf("[Credentials] Token response for credential %d names location %q, keeping bound location %q",
					base.ID, *g.LocationID, base.Location())
			}
			g.LocationID = base.LocationID
		} else if g.LocationID == nil {
			g.LocationID = base.LocationID
		}
		if g.CompanyID == nil {
			g.CompanyID = base.CompanyID
		}
		cred, err := s.build(g)
		if err != nil {
			return err
		}
		if err := tx.Create(cred).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Credential{}).
			Where("id = ? AND is_active = ?", baseID, true).
			Updates(map[string]interface{}{"is_active": false, "superseded_by": cred.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleCredential
		}
		if err := deactivateOthers(tx, cred.ID); err != nil {
			return err
		}
		next = cred
		return nil
	})
	if err != nil {
		var verr *ValidationError
		if errors.Is(err, ErrStaleCredential) || errors.As(err, &verr) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "supersede", Err: err}
	}
	return next, nil
}

func (s *gormStore) History(ctx context.Context, limit int) ([]models.Credential, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.Credential
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, &PersistenceError{Op: "history", Err: err}
	}
	return out, nil
}

func (s *gormStore) build(g Grant) (*models.Credential, error) {
	issued := s.now().UTC()
	if g.ExpiresIn <= 0 {
		g.ExpiresIn = models.DefaultExpiresIn
	}
	cred := &models.Credential{
		AccessToken:  strings.TrimSpace(g.AccessToken),
		RefreshToken: strings.TrimSpace(g.RefreshToken),
		LocationID:   nonEmpty(g.LocationID),
		CompanyID:    nonEmpty(g.CompanyID),
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(g.ExpiresIn),
		IsActive:     true,
	}
	if err := cred.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return cred, nil
}

func current(tx *gorm.DB, lock bool) (*models.Credential, error) {
	q := tx
	if lock {
		q = lockRow(tx)
	}
	var cred models.Credential
	err := q.Where("is_active = ?", true).
		Order("issued_at DESC").
		Order("id DESC").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// lockRow adds SELECT ... FOR UPDATE where the dialect supports it. SQLite
// serializes writers on its own.
func lockRow(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func deactivateOthers(tx *gorm.DB, keepID uint) error {
	return tx.Model(&models.Credential{}).
		Where("is_active = ? AND id <> ?", true, keepID).
		Updates(map[string]interface{}{"is_active": false, "superseded_by": keepID}).Error
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
