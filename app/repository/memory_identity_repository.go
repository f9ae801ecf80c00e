package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/LinkFox/app/models"
	"gorm.io/gorm"
)

// memoryIdentityRepository keeps identities in process memory. It enforces the
// same unique keys as the SQL schema so callers observe identical conflicts.
type memoryIdentityRepository struct {
	mu         sync.Mutex
	identities map[uint]*models.Identity
	nextID     uint
	nextLinkID uint
	nextTokID  uint
}

// NewMemoryIdentityRepository creates an empty in-memory identity repository
func NewMemoryIdentityRepository() IdentityRepository {
	return &memoryIdentityRepository{identities: make(map[uint]*models.Identity)}
}

func (r *memoryIdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUnique(0, identity); err != nil {
		return err
	}
	r.nextID++
	identity.ID = r.nextID
	now := time.Now()
	identity.CreatedAt, identity.UpdatedAt = now, now
	r.assignIDs(identity)
	r.identities[identity.ID] = identity.Clone()
	return nil
}

func (r *memoryIdentityRepository) GetByID(ctx context.Context, id uint) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return identity.Clone(), nil
}

func (r *memoryIdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.TrimSpace(email)
	for _, identity := range r.identities {
		if identity.Email == email {
			return identity.Clone(), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryIdentityRepository) GetByProviderLink(ctx context.Context, provider, externalID string) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.identities {
		if l := identity.LinkFor(provider); l != nil && l.ExternalID == externalID {
			return identity.Clone(), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryIdentityRepository) Update(ctx context.Context, id uint, mutate MutateFunc) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.identities[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	working := stored.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.ID = id
	if err := working.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkUnique(id, working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now()
	r.assignIDs(working)
	r.identities[id] = working.Clone()
	return working, nil
}

func (r *memoryIdentityRepository) Delete(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.identities, id)
	return nil
}

func (r *memoryIdentityRepository) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.identities)), nil
}

// checkUnique mirrors the unique indexes of the SQL schema. self is the id of
// the record being updated, or 0 on create.
func (r *memoryIdentityRepository) checkUnique(self uint, identity *models.Identity) error {
	seenProvider := make(map[string]struct{}, len(identity.Links))
	for _, l := range identity.Links {
		if _, dup := seenProvider[l.Provider]; dup {
			return gorm.ErrDuplicatedKey
		}
		seenProvider[l.Provider] = struct{}{}
	}
	seenKind := make(map[string]struct{}, len(identity.Tokens))
	for _, t := range identity.Tokens {
		if _, dup := seenKind[t.Kind]; dup {
			return gorm.ErrDuplicatedKey
		}
		seenKind[t.Kind] = struct{}{}
	}
	for id, other := range r.identities {
		if id == self {
			continue
		}
		if other.Email == identity.Email {
			return gorm.ErrDuplicatedKey
		}
		for _, l := range identity.Links {
			if ol := other.LinkFor(l.Provider); ol != nil && ol.ExternalID == l.ExternalID {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	return nil
}

func (r *memoryIdentityRepository) assignIDs(identity *models.Identity) {
	for idx := range identity.Links {
		identity.Links[idx].IdentityID = identity.ID
		if identity.Links[idx].ID == 0 {
			r.nextLinkID++
			identity.Links[idx].ID = r.nextLinkID
		}
	}
	for idx := range identity.Tokens {
		identity.Tokens[idx].IdentityID = identity.ID
		identity.Tokens[idx].Position = idx
		if identity.Tokens[idx].ID == 0 {
			r.nextTokID++
			identity.Tokens[idx].ID = r.nextTokID
		}
	}
}
