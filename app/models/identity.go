package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"

	// PlaceholderEmailDomain is appended to the provider name for accounts whose
	// provider withholds an email address.
	PlaceholderEmailDomain = "invalid"
)

var (
	ErrLinkAlreadySet = errors.New("provider link already set on identity")
	ErrLinkNotFound   = errors.New("provider link not found")
)

// Identity is the local account that provider links and tokens hang off.
type Identity struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      string         `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	Email     string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,max=200"`
	Password  string         `gorm:"type:text" json:"-"`
	Name      string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	AvatarURL string         `gorm:"type:varchar(255);default:null" json:"avatar_url" validate:"max=255"`
	Location  string         `gorm:"type:varchar(150);default:null" json:"location" validate:"max=150"`
	Website   string         `gorm:"type:varchar(255);default:null" json:"website" validate:"max=255"`
	Bio       string         `gorm:"type:text;default:null" json:"bio" validate:"max=1000"`
	Status    string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`
	Links     []ProviderLink `gorm:"constraint:OnDelete:CASCADE" json:"links"`
	Tokens    []Token        `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Profile carries the optional profile fields a provider may supply.
type Profile struct {
	Name      string
	AvatarURL string
	Location  string
	Website   string
	Bio       string
}

func (i *Identity) Validate() error {
	v := validator.New()

	return v.Struct(i)
}

// NewIdentity prepares an active identity with a fresh public id.
func NewIdentity(email string) *Identity {
	return &Identity{
		UUID:   uuid.NewString(),
		Email:  strings.TrimSpace(email),
		Status: STATUS_ACTIVE,
	}
}

// PlaceholderEmail builds the synthetic address used when a provider withholds one.
// It is unique because (provider, externalID) is and the local part encoding
// is reversible. Bytes outside [A-Za-z0-9_-] become %XX so any external id
// yields a valid address.
func PlaceholderEmail(provider, externalID string) string {
	return fmt.Sprintf("%s@%s.%s", placeholderLocalPart(externalID), strings.ToLower(provider), PlaceholderEmailDomain)
}

func placeholderLocalPart(externalID string) string {
	var b strings.Builder
	for i := 0; i < len(externalID); i++ {
		c := externalID[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// HasPlaceholderEmail reports whether the email was synthesized at sign-up.
func (i *Identity) HasPlaceholderEmail() bool {
	return strings.HasSuffix(i.Email, "."+PlaceholderEmailDomain)
}

// FillProfile sets profile fields that are still empty. Values already present
// are never overwritten.
func (i *Identity) FillProfile(p Profile) {
	fill := func(dst *string, v string) {
		if *dst == "" && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&i.Name, p.Name)
	fill(&i.AvatarURL, p.AvatarURL)
	fill(&i.Location, p.Location)
	fill(&i.Website, p.Website)
	fill(&i.Bio, p.Bio)
}

// LinkFor returns the link for the provider, or nil.
func (i *Identity) LinkFor(provider string) *ProviderLink {
	for idx := range i.Links {
		if i.Links[idx].Provider == provider {
			return &i.Links[idx]
		}
	}
	return nil
}

// SetLink attaches an external id for the provider. A link can be set once;
// setting the same external id again is a no-op.
func (i *Identity) SetLink(provider, externalID string) error {
	if existing := i.LinkFor(provider); existing != nil {
		if existing.ExternalID == externalID {
			return nil
		}
		return ErrLinkAlreadySet
	}
	i.Links = append(i.Links, ProviderLink{
		IdentityID: i.ID,
		Provider:   provider,
		ExternalID: externalID,
	})
	return nil
}

// RemoveLink drops the provider link.
func (i *Identity) RemoveLink(provider string) error {
	for idx := range i.Links {
		if i.Links[idx].Provider == provider {
			i.Links = append(i.Links[:idx], i.Links[idx+1:]...)
			return nil
		}
	}
	return ErrLinkNotFound
}

// TokenFor returns the token stored for kind, or nil.
func (i *Identity) TokenFor(kind string) *Token {
	for idx := range i.Tokens {
		if i.Tokens[idx].Kind == kind {
			return &i.Tokens[idx]
		}
	}
	return nil
}

// PutToken replaces the token of the same kind in place or appends it.
func (i *Identity) PutToken(t Token) {
	t.IdentityID = i.ID
	if existing := i.TokenFor(t.Kind); existing != nil {
		t.ID = existing.ID
		t.Position = existing.Position
		t.CreatedAt = existing.CreatedAt
		*existing = t
		return
	}
	t.Position = len(i.Tokens)
	i.Tokens = append(i.Tokens, t)
}

// MergeToken folds credentials from a fresh authorization into the stored
// token of the same kind. Empty refresh fields in t keep the stored refresh
// token, since providers often return one only on first consent.
func (i *Identity) MergeToken(t Token) {
	existing := i.TokenFor(t.Kind)
	if existing == nil {
		i.PutToken(t)
		return
	}
	if t.AccessToken != "" {
		existing.AccessToken = t.AccessToken
		existing.AccessTokenExpires = t.AccessTokenExpires
		existing.TokenSecret = t.TokenSecret
	}
	if t.RefreshToken != "" {
		existing.RefreshToken = t.RefreshToken
		existing.RefreshTokenExpires = t.RefreshTokenExpires
	}
}

// RemoveToken drops the token of kind and reports whether one was present.
func (i *Identity) RemoveToken(kind string) bool {
	for idx := range i.Tokens {
		if i.Tokens[idx].Kind == kind {
			i.Tokens = append(i.Tokens[:idx], i.Tokens[idx+1:]...)
			for p := range i.Tokens {
				i.Tokens[p].Position = p
			}
			return true
		}
	}
	return false
}

// CanSignInWithout reports whether the identity keeps a way to sign in after
// the provider link is removed.
func (i *Identity) CanSignInWithout(provider string) bool {
	if i.Password != "" {
		return true
	}
	for _, l := range i.Links {
		if l.Provider != provider {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Links = append([]ProviderLink(nil), i.Links...)
	out.Tokens = make([]Token, len(i.Tokens))
	for idx, t := range i.Tokens {
		out.Tokens[idx] = t.Clone()
	}
	return &out
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// SetPassword hashes and sets a new password for the identity
func (i *Identity) SetPassword(password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	i.Password = hashedPassword
	return nil
}
