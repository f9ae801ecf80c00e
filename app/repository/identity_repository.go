package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/LinkFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// identityRepository implements the IdentityRepository interface
type identityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository creates a new identity repository instance
func NewIdentityRepository(db *gorm.DB) IdentityRepository {
	return &identityRepository{db: db}
}

func preloadAll(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Tokens", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") })
}

// Create inserts the identity together with its links and tokens
func (r *identityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	for idx := range identity.Tokens {
		identity.Tokens[idx].Position = idx
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Associations are inserted explicitly: gorm's association upsert would
		// skip a link whose (provider, external_id) is already taken.
		if err := tx.Omit(clause.Associations).Create(identity).Error; err != nil {
			return err
		}
		for idx := range identity.Links {
			identity.Links[idx].IdentityID = identity.ID
		}
		for idx := range identity.Tokens {
			identity.Tokens[idx].IdentityID = identity.ID
		}
		if len(identity.Links) > 0 {
			if err := tx.Create(&identity.Links).Error; err != nil {
				return fmt.Errorf("create links: %w", err)
			}
		}
		if len(identity.Tokens) > 0 {
			if err := tx.Create(&identity.Tokens).Error; err != nil {
				return fmt.Errorf("create tokens: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		identity.ID = 0
	}
	return err
}

// GetByID retrieves an identity by its ID
func (r *identityRepository) GetByID(ctx context.Context, id uint) (*models.Identity, error) {
	var identity models.Identity
	if err := preloadAll(r.db.WithContext(ctx)).First(&identity, id).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

// GetByEmail retrieves an identity by its email address
func (r *identityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity models.Identity
	err := preloadAll(r.db.WithContext(ctx)).
		Where("email = ?", strings.TrimSpace(email)).
		First(&identity).Error
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// GetByProviderLink retrieves the identity owning the external id at provider
func (r *identityRepository) GetByProviderLink(ctx context.Context, provider, externalID string) (*models.Identity, error) {
	var link models.ProviderLink
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, link.IdentityID)
}

// Update performs a locked read-modify-write of the whole record
func (r *identityRepository) Update(ctx context.Context, id uint, mutate MutateFunc) (*models.Identity, error) {
	var out *models.Identity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Identity
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, id).Error; err != nil {
			return err
		}
		if err := tx.Where("identity_id = ?", id).Order("id ASC").Find(&current.Links).Error; err != nil {
			return err
		}
		if err := tx.Where("identity_id = ?", id).Order("position ASC, id ASC").Find(&current.Tokens).Error; err != nil {
			return err
		}

		before := current.Clone()
		if err := mutate(&current); err != nil {
			return err
		}
		current.ID = id
		if err := current.Validate(); err != nil {
			return err
		}

		if err := tx.Omit(clause.Associations).Save(&current).Error; err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
		if err := syncLinks(tx, id, before.Links, current.Links); err != nil {
			return err
		}
		if err := syncTokens(tx, id, before.Tokens, current.Tokens); err != nil {
			return err
		}
		out = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func syncLinks(tx *gorm.DB, identityID uint, before, after []models.ProviderLink) error {
	keep := make(map[uint]struct{}, len(after))
	for _, l := range after {
		if l.ID != 0 {
			keep[l.ID] = struct{}{}
		}
	}
	for _, l := range before {
		if _, ok := keep[l.ID]; ok {
			continue
		}
		if err := tx.Delete(&models.ProviderLink{}, l.ID).Error; err != nil {
			return fmt.Errorf("delete link %s: %w", l.Provider, err)
		}
	}
	for idx := range after {
		if after[idx].ID != 0 {
			continue
		}
		after[idx].IdentityID = identityID
		if err := tx.Create(&after[idx]).Error; err != nil {
			return fmt.Errorf("create link %s: %w", after[idx].Provider, err)
		}
	}
	return nil
}

func syncTokens(tx *gorm.DB, identityID uint, before, after []models.Token) error {
	keep := make(map[uint]struct{}, len(after))
	for _, t := range after {
		if t.ID != 0 {
			keep[t.ID] = struct{}{}
		}
	}
	// Deletes go first so a kind that was removed and re-added does not trip
	// the (identity_id, kind) index.
	for _, t := range before {
		if _, ok := keep[t.ID]; ok {
			continue
		}
		if err := tx.Delete(&models.Token{}, t.ID).Error; err != nil {
			return fmt.Errorf("delete token %s: %w", t.Kind, err)
		}
	}
	for idx := range after {
		after[idx].IdentityID = identityID
		after[idx].Position = idx
		if after[idx].ID == 0 {
			if err := tx.Create(&after[idx]).Error; err != nil {
				return fmt.Errorf("create token %s: %w", after[idx].Kind, err)
			}
			continue
		}
		if err := tx.Save(&after[idx]).Error; err != nil {
			return fmt.Errorf("save token %s: %w", after[idx].Kind, err)
		}
	}
	return nil
}

// Delete removes an identity with its links and tokens
func (r *identityRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", id).Delete(&models.Token{}).Error; err != nil {
			return err
		}
		if err := tx.Where("identity_id = ?", id).Delete(&models.ProviderLink{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Identity{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Count returns the total number of identities
func (r *identityRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Identity{}).Count(&count).Error
	return count, err
}
