package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// sqliteSchema mirrors the tables and unique keys in migrations/ on SQLite.
var sqliteSchema = []string{
	`CREATE TABLE identities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		email TEXT NOT NULL,
		password TEXT,
		name TEXT,
		avatar_url TEXT DEFAULT NULL,
		location TEXT DEFAULT NULL,
		website TEXT DEFAULT NULL,
		bio TEXT DEFAULT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX idx_identities_uuid ON identities (uuid)`,
	`CREATE UNIQUE INDEX idx_identities_email ON identities (email)`,
	`CREATE TABLE provider_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX provider_external ON provider_links (provider, external_id)`,
	`CREATE UNIQUE INDEX identity_provider ON provider_links (identity_id, provider)`,
	`CREATE TABLE identity_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id INTEGER NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		access_token TEXT,
		access_token_expires DATETIME DEFAULT NULL,
		refresh_token TEXT,
		refresh_token_expires DATETIME DEFAULT NULL,
		token_secret TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX identity_kind ON identity_tokens (identity_id, kind)`,
}

func newSQLiteRepository(t *testing.T) IdentityRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range sqliteSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return NewIdentityRepository(db)
}

func TestIdentityRepositoryCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	created := newLinkedIdentity("jane@example.com", "github", "42")
	require.NoError(t, repo.Create(ctx, created))
	require.NotZero(t, created.ID)

	byLink, err := repo.GetByProviderLink(ctx, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byLink.ID)
	require.Len(t, byLink.Links, 1)
	assert.Equal(t, created.ID, byLink.Links[0].IdentityID)
	require.Len(t, byLink.Tokens, 1)
	assert.Equal(t, "at-42", byLink.Tokens[0].AccessToken)

	byEmail, err := repo.GetByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = repo.GetByProviderLink(ctx, "github", "43")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIdentityRepositoryCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	require.NoError(t, repo.Create(ctx, newLinkedIdentity("jane@example.com", "github", "42")))

	sameEmail := newLinkedIdentity("jane@example.com", "google", "g1")
	err := repo.Create(ctx, sameEmail)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.Zero(t, sameEmail.ID)

	sameLink := newLinkedIdentity("john@example.com", "github", "42")
	err = repo.Create(ctx, sameLink)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.Zero(t, sameLink.ID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = repo.GetByEmail(ctx, "john@example.com")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIdentityRepositoryUpdateReplacesTokenByKind(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	identity := newLinkedIdentity("jane@example.com", "github", "42")
	identity.PutToken(models.Token{Kind: "google", AccessToken: "g-old", RefreshToken: "g-refresh"})
	identity.PutToken(models.Token{Kind: "tumblr", AccessToken: "t", TokenSecret: "ts"})
	require.NoError(t, repo.Create(ctx, identity))
	googleID := identity.TokenFor("google").ID

	updated, err := repo.Update(ctx, identity.ID, func(i *models.Identity) error {
		i.PutToken(models.Token{Kind: "google", AccessToken: "g-new", RefreshToken: "g-refresh-2"})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, updated.Tokens, 3)

	stored, err := repo.GetByID(ctx, identity.ID)
	require.NoError(t, err)
	require.Len(t, stored.Tokens, 3)
	assert.Equal(t, []string{"github", "google", "tumblr"}, tokenKinds(stored))

	google := stored.TokenFor("google")
	assert.Equal(t, googleID, google.ID)
	assert.Equal(t, "g-new", google.AccessToken)
	assert.Equal(t, "g-refresh-2", google.RefreshToken)
	assert.Equal(t, "at-42", stored.TokenFor("github").AccessToken)
	assert.Equal(t, "ts", stored.TokenFor("tumblr").TokenSecret)
}

func TestIdentityRepositoryUpdateRemovesAndReaddsKind(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	identity := newLinkedIdentity("jane@example.com", "github", "42")
	identity.PutToken(models.Token{Kind: "google", AccessToken: "g-old"})
	require.NoError(t, repo.Create(ctx, identity))
	oldID := identity.TokenFor("google").ID

	_, err := repo.Update(ctx, identity.ID, func(i *models.Identity) error {
		require.True(t, i.RemoveToken("google"))
		i.PutToken(models.Token{Kind: "google", AccessToken: "g-new"})
		return nil
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "google"}, tokenKinds(stored))
	google := stored.TokenFor("google")
	assert.NotEqual(t, oldID, google.ID)
	assert.Equal(t, "g-new", google.AccessToken)
	assert.Equal(t, 1, google.Position)
}

func TestIdentityRepositoryUpdateDuplicateLinkRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	jane := newLinkedIdentity("jane@example.com", "github", "42")
	require.NoError(t, repo.Create(ctx, jane))
	john := newLinkedIdentity("john@example.com", "google", "g1")
	require.NoError(t, repo.Create(ctx, john))

	_, err := repo.Update(ctx, john.ID, func(i *models.Identity) error {
		i.Name = "John"
		i.PutToken(models.Token{Kind: "github", AccessToken: "stolen"})
		return i.SetLink("github", "42")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)

	stored, err := repo.GetByID(ctx, john.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Name)
	require.Len(t, stored.Links, 1)
	assert.Equal(t, "google", stored.Links[0].Provider)
	assert.Nil(t, stored.TokenFor("github"))

	owner, err := repo.GetByProviderLink(ctx, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, jane.ID, owner.ID)
}

func TestIdentityRepositoryUpdateMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	_, err := repo.Update(ctx, 99, func(*models.Identity) error { return nil })
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	identity := newLinkedIdentity("jane@example.com", "github", "42")
	require.NoError(t, repo.Create(ctx, identity))
	require.NoError(t, repo.Delete(ctx, identity.ID))
	assert.ErrorIs(t, repo.Delete(ctx, identity.ID), gorm.ErrRecordNotFound)

	_, err = repo.GetByProviderLink(ctx, "github", "42")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// the external id is free again once its owner is gone
	require.NoError(t, repo.Create(ctx, newLinkedIdentity("jane@example.com", "github", "42")))
}

func tokenKinds(identity *models.Identity) []string {
	kinds := make([]string, 0, len(identity.Tokens))
	for _, t := range identity.Tokens {
		kinds = append(kinds, t.Kind)
	}
	return kinds
}
