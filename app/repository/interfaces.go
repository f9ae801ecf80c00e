package repository

import (
	"context"

	"github.com/ManuelReschke/LinkFox/app/models"
	"gorm.io/gorm"
)

// MutateFunc edits an identity inside Update. Returning an error aborts the
// update and nothing is written.
type MutateFunc func(identity *models.Identity) error

// IdentityRepository defines the persistence operations on identity records.
// Every lookup returns the identity with its links and its tokens in order.
// Unique violations surface as gorm.ErrDuplicatedKey and missing rows as
// gorm.ErrRecordNotFound regardless of the backing store.
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) error
	GetByID(ctx context.Context, id uint) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetByProviderLink(ctx context.Context, provider, externalID string) (*models.Identity, error)
	// Update loads the record under a write lock, applies mutate and persists
	// profile fields, links and tokens as one unit.
	Update(ctx context.Context, id uint, mutate MutateFunc) (*models.Identity, error)
	Delete(ctx context.Context, id uint) error
	Count(ctx context.Context) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Identity IdentityRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Identity: NewIdentityRepository(db),
	}
}

// NewMemoryRepositories creates repositories that keep everything in process memory.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Identity: NewMemoryIdentityRepository(),
	}
}
