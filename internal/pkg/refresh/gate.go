// Package refresh keeps provider access tokens usable. EnsureFresh either
// returns a token that can be used right now or tells the caller that the
// user has to authorize the provider again.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
	"github.com/ManuelReschke/LinkFox/internal/pkg/metrics"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
)

const (
	DefaultSkew    = time.Minute
	DefaultTimeout = 10 * time.Second

	peerPollInterval = 100 * time.Millisecond
)

var (
	ErrNoToken             = errors.New("no token stored for provider")
	ErrRefreshUnavailable  = errors.New("token expired and no usable refresh token")
	ErrProviderUnsupported = errors.New("provider does not support refresh")
	ErrTokenRemoved        = errors.New("token was removed while refreshing")
)

// Status of an EnsureFresh call.
type Status int

const (
	Ready Status = iota
	NeedsReauthorization
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case NeedsReauthorization:
		return "needs_reauthorization"
	}
	return "unknown"
}

// Attempt describes one outbound refresh-token grant.
type Attempt struct {
	Provider string
	TokenURL string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Result of EnsureFresh. Token is set when Status is Ready, Reason when it is not.
type Result struct {
	Status  Status
	Token   *models.Token
	Reason  error
	Attempt *Attempt
}

// Store is the part of the identity repository the gate needs.
type Store interface {
	GetByID(ctx context.Context, id uint) (*models.Identity, error)
	Update(ctx context.Context, id uint, mutate repository.MutateFunc) (*models.Identity, error)
}

// Locker guards a refresh across processes. TryLock returns false without
// error when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error)
}

type Options struct {
	Client  *http.Client
	Skew    time.Duration
	Timeout time.Duration
	Locker  Locker
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Gate refreshes tokens on demand. It is safe for concurrent use.
type Gate struct {
	registry *provider.Registry
	store    Store
	client   *http.Client
	skew     time.Duration
	timeout  time.Duration
	locker   Locker
	metrics  *metrics.Recorder
	now      func() time.Time

	group singleflight.Group
}

func New(registry *provider.Registry, store Store, opts Options) *Gate {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Skew <= 0 {
		opts.Skew = DefaultSkew
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		registry: registry,
		store:    store,
		client:   opts.Client,
		skew:     opts.Skew,
		timeout:  opts.Timeout,
		locker:   opts.Locker,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

type refreshed struct {
	token   models.Token
	attempt *Attempt
}

// EnsureFresh returns Ready with a usable token for providerName, refreshing
// it first if it expires within the skew window. Every failure is reported as
// NeedsReauthorization. On success identity is updated in place.
func (g *Gate) EnsureFresh(ctx context.Context, identity *models.Identity, providerName string) Result {
	if identity == nil {
		return g.reauth(providerName, ErrNoToken, nil)
	}
	stored := identity.TokenFor(providerName)
	if stored == nil {
		return g.reauth(providerName, ErrNoToken, nil)
	}
	now := g.now()
	if stored.AccessTokenUsable(now, g.skew) {
		g.metrics.Refresh(providerName, "cached")
		t := stored.Clone()
		return Result{Status: Ready, Token: &t}
	}
	if !stored.RefreshTokenUsable(now) {
		return g.reauth(providerName, ErrRefreshUnavailable, nil)
	}
	cfg, ok := g.registry.Get(providerName)
	if !ok || cfg.AuthMethod.IsOAuth1() || cfg.TokenURL == "" {
		return g.reauth(providerName, ErrProviderUnsupported, nil)
	}

	key := fmt.Sprintf("%d:%s", identity.ID, providerName)
	ch := g.group.DoChan(key, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.refreshShared(rctx, key, identity.ID, cfg)
	})

	select {
	case <-ctx.Done():
		return g.reauth(providerName, ctx.Err(), nil)
	case res := <-ch:
		var attempt *Attempt
		r, _ := res.Val.(*refreshed)
		if r != nil {
			attempt = r.attempt
		}
		if res.Err != nil {
			return g.reauth(providerName, res.Err, attempt)
		}
		t := r.token
		identity.PutToken(t.Clone())
		g.metrics.Refresh(providerName, "refreshed")
		return Result{Status: Ready, Token: &t, Attempt: attempt}
	}
}

func (g *Gate) reauth(providerName string, reason error, attempt *Attempt) Result {
	log.Debugf("[Refresh] %s needs reauthorization: %v", providerName, reason)
	g.metrics.Refresh(providerName, "reauth")
	return Result{Status: NeedsReauthorization, Reason: reason, Attempt: attempt}
}

// refreshShared runs once per key at a time within this process.
func (g *Gate) refreshShared(ctx context.Context, key string, identityID uint, cfg provider.Config) (*refreshed, error) {
	if g.locker != nil {
		ok, release, err := g.locker.TryLock(ctx, "refresh:"+key, g.timeout+5*time.Second)
		switch {
		case err != nil:
			log.Warnf("[Refresh] Could not take refresh lock for %s, continuing without: %v", cfg.Name, err)
		case !ok:
			return g.waitForPeer(ctx, identityID, cfg.Name)
		default:
			defer release()
		}
	}

	current, err := g.store.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	stored := current.TokenFor(cfg.Name)
	if stored == nil {
		return nil, ErrTokenRemoved
	}
	if stored.AccessTokenUsable(g.now(), g.skew) {
		// Refreshed by an earlier flight or another process.
		return &refreshed{token: stored.Clone()}, nil
	}
	if !stored.RefreshTokenUsable(g.now()) {
		return nil, ErrRefreshUnavailable
	}

	attempt := &Attempt{Provider: cfg.Name, TokenURL: cfg.TokenURL, Started: g.now()}
	fresh, err := g.grant(ctx, cfg, stored.RefreshToken)
	attempt.Duration = g.now().Sub(attempt.Started)
	g.metrics.RefreshLatency(cfg.Name, attempt.Duration)
	if err != nil {
		attempt.Err = err
		log.Warnf("[Refresh] Refresh for %s at %s failed: %v", cfg.Name, cfg.TokenURL, err)
		return &refreshed{attempt: attempt}, err
	}

	updated, err := g.store.Update(ctx, identityID, func(identity *models.Identity) error {
		t := identity.TokenFor(cfg.Name)
		if t == nil {
			return ErrTokenRemoved
		}
		applyGrant(t, fresh, g.now())
		return nil
	})
	if err != nil {
		attempt.Err = err
		log.Errorf("[Refresh] Could not store refreshed %s token: %v", cfg.Name, err)
		return &refreshed{attempt: attempt}, fmt.Errorf("store refreshed token: %w", err)
	}

	log.Infof("[Refresh] Refreshed %s token for identity %d", cfg.Name, identityID)
	return &refreshed{token: updated.TokenFor(cfg.Name).Clone(), attempt: attempt}, nil
}

// waitForPeer polls the record until another process stored a usable token.
func (g *Gate) waitForPeer(ctx context.Context, identityID uint, providerName string) (*refreshed, error) {
	ticker := time.NewTicker(peerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, &autherr.ProviderNetworkError{Provider: providerName, Err: ctx.Err()}
		case <-ticker.C:
		}
		current, err := g.store.GetByID(ctx, identityID)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
		t := current.TokenFor(providerName)
		if t == nil {
			return nil, ErrTokenRemoved
		}
		if t.AccessTokenUsable(g.now(), g.skew) {
			return &refreshed{token: t.Clone()}, nil
		}
	}
}

func (g *Gate) grant(ctx context.Context, cfg provider.Config, refreshToken string) (*oauth2.Token, error) {
	style := oauth2.AuthStyleInParams
	if cfg.AuthMethod.ClientAuthInHeader() {
		style = oauth2.AuthStyleInHeader
	}
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: style,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &autherr.ProviderAuthError{Provider: cfg.Name, URL: cfg.TokenURL, Status: status, Code: re.ErrorCode, Err: err}
		}
		return nil, &autherr.ProviderNetworkError{Provider: cfg.Name, URL: cfg.TokenURL, Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &autherr.ProviderAuthError{Provider: cfg.Name, URL: cfg.TokenURL, Err: errors.New("response carries no access token")}
	}
	return tok, nil
}

// applyGrant copies a successful grant onto t. The stored refresh token is
// only replaced when the provider rotated it.
func applyGrant(t *models.Token, fresh *oauth2.Token, now time.Time) {
	t.AccessToken = fresh.AccessToken
	t.AccessTokenExpires = models.TimePtr(fresh.Expiry)
	if fresh.RefreshToken != "" {
		t.RefreshToken = fresh.RefreshToken
	}
	if d, ok := RefreshTokenLifetime(fresh.Extra); ok {
		exp := now.Add(d)
		t.RefreshTokenExpires = &exp
	}
}

// RefreshTokenLifetime reads the refresh token lifetime some providers add to
// token responses.
func RefreshTokenLifetime(extra func(string) any) (time.Duration, bool) {
	if extra == nil {
		return 0, false
	}
	for _, key := range []string{"refresh_token_expires_in", "x_refresh_token_expires_in"} {
		if secs, ok := seconds(extra(key)); ok {
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}

func seconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case int:
		return int64(n), n > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	}
	return 0, false
}
