package linker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
)

func newLinker() (*Linker, repository.IdentityRepository) {
	store := repository.NewMemoryIdentityRepository()
	return New(store, provider.NewRegistry(provider.Defaults()...), nil), store
}

func githubUser(id, email string) goth.User {
	return goth.User{
		Provider:     "github",
		UserID:       id,
		Email:        email,
		Name:         "Octo Cat",
		AvatarURL:    "https://avatars.example/octo.png",
		Location:     "Berlin",
		AccessToken:  "gh-access-" + id,
		RefreshToken: "gh-refresh-" + id,
		ExpiresAt:    time.Now().Add(8 * time.Hour),
		RawData:      map[string]interface{}{"blog": "https://octo.example"},
	}
}

func TestReconcileCreatesIdentity(t *testing.T) {
	l, store := newLinker()

	res := l.Reconcile(context.Background(), "github", githubUser("42", "Octo@Example.com"), nil)
	require.Equal(t, Created, res.Outcome, "err: %v", res.Err)
	require.NotNil(t, res.Identity)

	stored, err := store.GetByProviderLink(context.Background(), "github", "42")
	require.NoError(t, err)
	assert.Equal(t, res.Identity.ID, stored.ID)
	assert.Equal(t, "octo@example.com", stored.Email)
	assert.Equal(t, "Octo Cat", stored.Name)
	assert.Equal(t, "https://octo.example", stored.Website)

	tok := stored.TokenFor("github")
	require.NotNil(t, tok)
	assert.Equal(t, "gh-access-42", tok.AccessToken)
	assert.Equal(t, "gh-refresh-42", tok.RefreshToken)
	assert.NotNil(t, tok.AccessTokenExpires)
}

func TestReconcileCreatesPlaceholderEmail(t *testing.T) {
	l, _ := newLinker()

	user := githubUser("77", "")
	user.ExpiresAt = time.Time{}
	res := l.Reconcile(context.Background(), "twitch", user, nil)
	require.Equal(t, Created, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, "77@twitch.invalid", res.Identity.Email)
	assert.True(t, res.Identity.HasPlaceholderEmail())
	assert.Nil(t, res.Identity.TokenFor("twitch").AccessTokenExpires)
}

func TestReconcileSignsInExistingOwner(t *testing.T) {
	l, store := newLinker()
	created := l.Reconcile(context.Background(), "github", githubUser("42", "octo@example.com"), nil)
	require.Equal(t, Created, created.Outcome)

	again := githubUser("42", "octo@example.com")
	again.AccessToken = "rotated"
	res := l.Reconcile(context.Background(), "github", again, nil)
	require.Equal(t, SignedIn, res.Outcome)
	assert.Equal(t, created.Identity.ID, res.Identity.ID)

	stored, err := store.GetByID(context.Background(), created.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", stored.TokenFor("github").AccessToken)
	assert.Len(t, stored.Tokens, 1)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestReconcileSignedInSameOwnerSignsIn(t *testing.T) {
	l, _ := newLinker()
	created := l.Reconcile(context.Background(), "github", githubUser("42", "octo@example.com"), nil)
	require.Equal(t, Created, created.Outcome)

	res := l.Reconcile(context.Background(), "github", githubUser("42", "octo@example.com"), created.Identity)
	assert.Equal(t, SignedIn, res.Outcome)
}

func TestReconcileLinksToCurrentIdentity(t *testing.T) {
	l, store := newLinker()
	current := models.NewIdentity("me@example.com")
	current.Name = "Already Named"
	require.NoError(t, store.Create(context.Background(), current))

	user := goth.User{UserID: "g-1", Email: "me@gmail.com", Name: "Google Name", Location: "Hamburg", AccessToken: "ga"}
	res := l.Reconcile(context.Background(), "google", user, current)
	require.Equal(t, Linked, res.Outcome, "err: %v", res.Err)

	stored, err := store.GetByID(context.Background(), current.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LinkFor("google"))
	assert.Equal(t, "g-1", stored.LinkFor("google").ExternalID)
	assert.Equal(t, "ga", stored.TokenFor("google").AccessToken)
	assert.Equal(t, "Already Named", stored.Name)
	assert.Equal(t, "Hamburg", stored.Location)
	assert.Equal(t, "me@example.com", stored.Email)

	assert.Nil(t, current.LinkFor("google"), "caller's copy is not modified")
}

func TestReconcileLinkOwnedByAnotherIdentityConflicts(t *testing.T) {
	l, store := newLinker()
	owner := l.Reconcile(context.Background(), "github", githubUser("42", "owner@example.com"), nil)
	require.Equal(t, Created, owner.Outcome)

	current := models.NewIdentity("me@example.com")
	require.NoError(t, store.Create(context.Background(), current))
	beforeCurrent, err := store.GetByID(context.Background(), current.ID)
	require.NoError(t, err)
	beforeOwner, err := store.GetByID(context.Background(), owner.Identity.ID)
	require.NoError(t, err)

	res := l.Reconcile(context.Background(), "github", githubUser("42", "owner@example.com"), current)
	require.Equal(t, Conflict, res.Outcome)
	var conflictErr *autherr.AccountConflictError
	require.True(t, errors.As(res.Err, &conflictErr))
	assert.Equal(t, ReasonLinkedElsewhere, conflictErr.Reason)
	assert.Nil(t, res.Identity)

	afterCurrent, err := store.GetByID(context.Background(), current.ID)
	require.NoError(t, err)
	afterOwner, err := store.GetByID(context.Background(), owner.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, beforeCurrent, afterCurrent)
	assert.Equal(t, beforeOwner, afterOwner)
}

func TestReconcileSecondAccountOfSameProviderConflicts(t *testing.T) {
	l, store := newLinker()
	created := l.Reconcile(context.Background(), "github", githubUser("42", "octo@example.com"), nil)
	require.Equal(t, Created, created.Outcome)

	res := l.Reconcile(context.Background(), "github", githubUser("43", "other@example.com"), created.Identity)
	require.Equal(t, Conflict, res.Outcome)
	var conflictErr *autherr.AccountConflictError
	require.True(t, errors.As(res.Err, &conflictErr))
	assert.Equal(t, ReasonOtherLink, conflictErr.Reason)

	stored, err := store.GetByID(context.Background(), created.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", stored.LinkFor("github").ExternalID)
}

func TestReconcileEmailInUseConflictsWithoutCreating(t *testing.T) {
	l, store := newLinker()
	existing := models.NewIdentity("octo@example.com")
	require.NoError(t, store.Create(context.Background(), existing))

	res := l.Reconcile(context.Background(), "github", githubUser("42", "octo@example.com"), nil)
	require.Equal(t, Conflict, res.Outcome)
	var conflictErr *autherr.AccountConflictError
	require.True(t, errors.As(res.Err, &conflictErr))
	assert.Equal(t, ReasonEmailInUse, conflictErr.Reason)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	stored, err := store.GetByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Links)
}

func TestReconcileFailures(t *testing.T) {
	l, store := newLinker()

	res := l.Reconcile(context.Background(), "myspace", githubUser("1", "a@example.com"), nil)
	assert.Equal(t, Failure, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrUnknownProvider)

	res = l.Reconcile(context.Background(), "github", goth.User{}, nil)
	assert.Equal(t, Failure, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrMissingUserID)

	upstream := errors.New("exchange failed")
	res = Failed(upstream)
	assert.Equal(t, Failure, res.Outcome)
	assert.ErrorIs(t, res.Err, upstream)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReconcileConcurrentCreatesYieldOneIdentity(t *testing.T) {
	l, store := newLinker()

	const callers = 16
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.Reconcile(context.Background(), "github", githubUser("42", "octo@example.com"), nil)
		}(i)
	}
	wg.Wait()

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	created := 0
	for _, res := range results {
		switch res.Outcome {
		case Created:
			created++
		case SignedIn, Conflict:
		default:
			t.Fatalf("unexpected outcome %s: %v", res.Outcome, res.Err)
		}
	}
	assert.Equal(t, 1, created)
}

func TestTokenFromUserReadsRefreshLifetime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	user := goth.User{
		AccessToken:       "a",
		AccessTokenSecret: "s",
		RawData:           map[string]interface{}{"refresh_token_expires_in": float64(3600)},
	}
	tok := TokenFromUser("tumblr", user, now)
	assert.Equal(t, "tumblr", tok.Kind)
	assert.Equal(t, "s", tok.TokenSecret)
	require.NotNil(t, tok.RefreshTokenExpires)
	assert.Equal(t, now.Add(time.Hour), *tok.RefreshTokenExpires)
}

func TestReconcileRepeatSignInKeepsRefreshToken(t *testing.T) {
	l, store := newLinker()
	ctx := context.Background()

	first := goth.User{UserID: "g1", Email: "g@example.com", AccessToken: "a1", RefreshToken: "r1",
		RawData: map[string]interface{}{"refresh_token_expires_in": float64(86400)}}
	res := l.Reconcile(ctx, "google", first, nil)
	require.Equal(t, Created, res.Outcome, "err: %v", res.Err)
	firstExpiry := res.Identity.TokenFor("google").RefreshTokenExpires
	require.NotNil(t, firstExpiry)

	res = l.Reconcile(ctx, "google", goth.User{UserID: "g1", AccessToken: "a2"}, nil)
	require.Equal(t, SignedIn, res.Outcome, "err: %v", res.Err)

	stored, err := store.GetByProviderLink(ctx, "google", "g1")
	require.NoError(t, err)
	tok := stored.TokenFor("google")
	require.NotNil(t, tok)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	require.NotNil(t, tok.RefreshTokenExpires)
	assert.True(t, firstExpiry.Equal(*tok.RefreshTokenExpires))

	res = l.Reconcile(ctx, "google", goth.User{UserID: "g1", AccessToken: "a3", RefreshToken: "r2"}, nil)
	require.Equal(t, SignedIn, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, "r2", res.Identity.TokenFor("google").RefreshToken)
}

func TestReconcileCreatesPlaceholderForOddExternalID(t *testing.T) {
	l, _ := newLinker()

	for _, externalID := range []string{"my blog", `a"b`} {
		res := l.Reconcile(context.Background(), "twitch", goth.User{UserID: externalID, AccessToken: "t"}, nil)
		require.Equal(t, Created, res.Outcome, "external id %q: %v", externalID, res.Err)
		assert.True(t, res.Identity.HasPlaceholderEmail())
		assert.Equal(t, externalID, res.Identity.Links[0].ExternalID)
	}
}
