// Package linker decides what a completed provider sign-in means for the local
// account store: sign in, link to the signed-in account, create an account or
// refuse because of a conflict.
package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
	"github.com/ManuelReschke/LinkFox/internal/pkg/metrics"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	"github.com/ManuelReschke/LinkFox/internal/pkg/refresh"
)

type Outcome string

const (
	SignedIn Outcome = "signed_in"
	Linked   Outcome = "linked"
	Created  Outcome = "created"
	Conflict Outcome = "conflict"
	Failure  Outcome = "failure"
)

const (
	ReasonLinkedElsewhere = "already linked to another account"
	ReasonEmailInUse      = "email address already belongs to another account"
	ReasonOtherLink       = "a different account of this provider is already linked"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingUserID   = errors.New("provider returned no user id")
)

// Result of Reconcile. Identity is set for SignedIn, Linked and Created;
// Err is set for Conflict and Failure.
type Result struct {
	Outcome  Outcome
	Identity *models.Identity
	Err      error
}

// Failed wraps an upstream failure, e.g. a failed code exchange, as a Result.
func Failed(err error) Result {
	return Result{Outcome: Failure, Err: err}
}

// Linker reconciles provider profiles with identity records.
type Linker struct {
	store    repository.IdentityRepository
	registry *provider.Registry
	metrics  *metrics.Recorder
	now      func() time.Time
}

func New(store repository.IdentityRepository, registry *provider.Registry, m *metrics.Recorder) *Linker {
	return &Linker{store: store, registry: registry, metrics: m, now: time.Now}
}

// Reconcile maps an authenticated provider user onto the account store.
// current is the identity already signed in, or nil. current itself is never
// modified; the returned Identity reflects what was persisted.
func (l *Linker) Reconcile(ctx context.Context, providerName string, user goth.User, current *models.Identity) Result {
	res := l.reconcile(ctx, providerName, user, current)
	l.metrics.Reconcile(providerName, string(res.Outcome))
	switch res.Outcome {
	case Conflict:
		log.Infof("[Linker] %s sign-in for %s refused: %v", providerName, user.UserID, res.Err)
	case Failure:
		log.Errorf("[Linker] %s sign-in failed: %v", providerName, res.Err)
	default:
		log.Infof("[Linker] %s sign-in for identity %d: %s", providerName, res.Identity.ID, res.Outcome)
	}
	return res
}

func (l *Linker) reconcile(ctx context.Context, providerName string, user goth.User, current *models.Identity) Result {
	if _, ok := l.registry.Get(providerName); !ok {
		return Failed(fmt.Errorf("%w: %s", ErrUnknownProvider, providerName))
	}
	externalID := strings.TrimSpace(user.UserID)
	if externalID == "" {
		return Failed(ErrMissingUserID)
	}
	token := TokenFromUser(providerName, user, l.now())

	owner, err := l.store.GetByProviderLink(ctx, providerName, externalID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Failed(fmt.Errorf("lookup provider link: %w", err))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		owner = nil
	}

	if current != nil {
		if owner != nil {
			if owner.ID != current.ID {
				return conflict(providerName, externalID, ReasonLinkedElsewhere)
			}
			return l.signIn(ctx, owner.ID, token)
		}
		return l.link(ctx, current.ID, providerName, externalID, user, token)
	}

	if owner != nil {
		return l.signIn(ctx, owner.ID, token)
	}
	return l.create(ctx, providerName, externalID, user, token)
}

func (l *Linker) signIn(ctx context.Context, identityID uint, token models.Token) Result {
	updated, err := l.store.Update(ctx, identityID, func(identity *models.Identity) error {
		identity.MergeToken(token)
		return nil
	})
	if err != nil {
		return Failed(fmt.Errorf("store tokens: %w", err))
	}
	return Result{Outcome: SignedIn, Identity: updated}
}

func (l *Linker) link(ctx context.Context, identityID uint, providerName, externalID string, user goth.User, token models.Token) Result {
	updated, err := l.store.Update(ctx, identityID, func(identity *models.Identity) error {
		if err := identity.SetLink(providerName, externalID); err != nil {
			return err
		}
		identity.MergeToken(token)
		identity.FillProfile(ProfileFromUser(user))
		return nil
	})
	switch {
	case err == nil:
		return Result{Outcome: Linked, Identity: updated}
	case errors.Is(err, models.ErrLinkAlreadySet):
		return conflict(providerName, externalID, ReasonOtherLink)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Another identity claimed the external id after our lookup.
		return conflict(providerName, externalID, ReasonLinkedElsewhere)
	default:
		return Failed(fmt.Errorf("link %s: %w", providerName, err))
	}
}

func (l *Linker) create(ctx context.Context, providerName, externalID string, user goth.User, token models.Token) Result {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email != "" {
		_, err := l.store.GetByEmail(ctx, email)
		switch {
		case err == nil:
			return conflict(providerName, externalID, ReasonEmailInUse)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return Failed(fmt.Errorf("lookup email: %w", err))
		}
	} else {
		email = models.PlaceholderEmail(providerName, externalID)
	}

	identity := models.NewIdentity(email)
	identity.FillProfile(ProfileFromUser(user))
	if err := identity.SetLink(providerName, externalID); err != nil {
		return Failed(err)
	}
	identity.PutToken(token)

	err := l.store.Create(ctx, identity)
	if err == nil {
		return Result{Outcome: Created, Identity: identity}
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return Failed(fmt.Errorf("create identity: %w", err))
	}

	// Lost a race: either the external id or the email was taken meanwhile.
	owner, lookupErr := l.store.GetByProviderLink(ctx, providerName, externalID)
	if lookupErr == nil {
		return l.signIn(ctx, owner.ID, token)
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return Failed(fmt.Errorf("lookup provider link: %w", lookupErr))
	}
	return conflict(providerName, externalID, ReasonEmailInUse)
}

func conflict(providerName, externalID, reason string) Result {
	return Result{
		Outcome: Conflict,
		Err:     &autherr.AccountConflictError{Provider: providerName, ExternalID: externalID, Reason: reason},
	}
}

// TokenFromUser maps the credentials goth obtained onto a Token of kind providerName.
func TokenFromUser(providerName string, user goth.User, now time.Time) models.Token {
	t := models.Token{
		Kind:               providerName,
		AccessToken:        user.AccessToken,
		AccessTokenExpires: models.TimePtr(user.ExpiresAt),
		RefreshToken:       user.RefreshToken,
		TokenSecret:        user.AccessTokenSecret,
	}
	if d, ok := refresh.RefreshTokenLifetime(func(key string) any { return user.RawData[key] }); ok {
		exp := now.Add(d)
		t.RefreshTokenExpires = &exp
	}
	return t
}

// ProfileFromUser picks the profile fields a provider returned.
func ProfileFromUser(user goth.User) models.Profile {
	name := user.Name
	if strings.TrimSpace(name) == "" {
		name = user.NickName
	}
	return models.Profile{
		Name:      clip(name, 150),
		AvatarURL: clip(user.AvatarURL, 255),
		Location:  clip(user.Location, 150),
		Website:   clip(website(user.RawData), 255),
		Bio:       clip(user.Description, 1000),
	}
}

func website(raw map[string]interface{}) string {
	for _, key := range []string{"blog", "website", "html_url"} {
		if v, ok := raw[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
