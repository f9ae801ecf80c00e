// Package accounts implements the unlink and delete-account flows.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/revoke"
)

// ErrLastSignInMethod is returned when removing the link would leave the
// identity without any way to sign in.
var ErrLastSignInMethod = errors.New("cannot remove the last sign-in method")

// Revoker is the part of the revocation orchestrator the service needs.
type Revoker interface {
	RevokeAll(ctx context.Context, tokens []models.Token) revoke.Report
	RevokeOne(ctx context.Context, providerName string, token models.Token) revoke.Report
}

type Service struct {
	store   repository.IdentityRepository
	revoker Revoker
}

func NewService(store repository.IdentityRepository, revoker Revoker) *Service {
	return &Service{store: store, revoker: revoker}
}

// Unlink revokes the provider's token and removes link and token from the identity.
func (s *Service) Unlink(ctx context.Context, identityID uint, providerName string) error {
	identity, err := s.store.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if identity.LinkFor(providerName) == nil && identity.TokenFor(providerName) == nil {
		return models.ErrLinkNotFound
	}
	if identity.LinkFor(providerName) != nil && !identity.CanSignInWithout(providerName) {
		return ErrLastSignInMethod
	}

	if t := identity.TokenFor(providerName); t != nil {
		report := s.revoker.RevokeOne(ctx, providerName, *t)
		if failed := report.Failed(); len(failed) > 0 {
			log.Warnf("[Accounts] %d of %d %s revocations failed for identity %d", len(failed), len(report.Outcomes), providerName, identityID)
		}
	}

	_, err = s.store.Update(ctx, identityID, func(i *models.Identity) error {
		if i.LinkFor(providerName) != nil && !i.CanSignInWithout(providerName) {
			return ErrLastSignInMethod
		}
		_ = i.RemoveLink(providerName)
		i.RemoveToken(providerName)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unlink %s: %w", providerName, err)
	}
	log.Infof("[Accounts] Unlinked %s from identity %d", providerName, identityID)
	return nil
}

// Delete revokes every token of the identity and removes the record.
func (s *Service) Delete(ctx context.Context, identityID uint) error {
	identity, err := s.store.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	report := s.revoker.RevokeAll(ctx, identity.Tokens)
	if failed := report.Failed(); len(failed) > 0 {
		log.Warnf("[Accounts] %d of %d revocations failed while deleting identity %d", len(failed), len(report.Outcomes), identityID)
	}

	if err := s.store.Delete(ctx, identityID); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	log.Infof("[Accounts] Deleted identity %d", identityID)
	return nil
}

// RevokeTokens revokes every stored token but keeps links and tokens on the
// record. Used for incident response.
func (s *Service) RevokeTokens(ctx context.Context, identityID uint) (revoke.Report, error) {
	identity, err := s.store.GetByID(ctx, identityID)
	if err != nil {
		return revoke.Report{}, fmt.Errorf("load identity: %w", err)
	}
	return s.revoker.RevokeAll(ctx, identity.Tokens), nil
}
