// Package revoke invalidates stored tokens at the providers that issued them.
// Revocation is best effort: failures are logged and reported, never returned.
package revoke

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
	"github.com/ManuelReschke/LinkFox/internal/pkg/metrics"
	"github.com/ManuelReschke/LinkFox/internal/pkg/oauth1"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultConcurrency = 8
)

// Options tune a Revoker. Zero values pick the defaults.
type Options struct {
	Client      *http.Client
	Timeout     time.Duration
	Concurrency int
	Signer      *oauth1.Signer
	Metrics     *metrics.Recorder
}

// Revoker fans revocation calls out to providers.
type Revoker struct {
	registry    *provider.Registry
	client      *http.Client
	timeout     time.Duration
	concurrency int
	signer      *oauth1.Signer
	metrics     *metrics.Recorder
}

// Outcome is the result of one planned revocation call.
type Outcome struct {
	Provider string
	Hint     string
	URL      string
	Status   int
	// Skipped is set when no request was sent because of misconfiguration.
	Skipped bool
	Err     error
}

// Report collects the outcomes of a RevokeAll or RevokeOne run.
type Report struct {
	Outcomes []Outcome
}

// Calls returns the number of requests actually sent.
func (r Report) Calls() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Skipped {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that carry an error, skipped ones included.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func New(registry *provider.Registry, opts Options) *Revoker {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Signer == nil {
		opts.Signer = oauth1.NewSigner()
	}
	return &Revoker{
		registry:    registry,
		client:      opts.Client,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		signer:      opts.Signer,
		metrics:     opts.Metrics,
	}
}

// RevokeAll revokes every token in tokens and returns once all calls settled.
// Tokens whose kind is not a registered provider are ignored.
func (r *Revoker) RevokeAll(ctx context.Context, tokens []models.Token) Report {
	var calls []call
	for _, t := range tokens {
		cfg, ok := r.registry.Get(t.Kind)
		if !ok {
			log.Debugf("[Revoke] No provider registered for token kind %q, skipping", t.Kind)
			continue
		}
		calls = append(calls, r.plan(cfg, t)...)
	}
	return r.run(ctx, calls)
}

// RevokeOne revokes a single token of the named provider.
func (r *Revoker) RevokeOne(ctx context.Context, providerName string, token models.Token) Report {
	cfg, ok := r.registry.Get(providerName)
	if !ok {
		log.Debugf("[Revoke] No provider registered under %q, skipping", providerName)
		return Report{}
	}
	return r.run(ctx, r.plan(cfg, token))
}

// plan lists the calls for one token: refresh token first, then access token.
func (r *Revoker) plan(cfg provider.Config, t models.Token) []call {
	if _, ok := builders[cfg.AuthMethod]; !ok {
		log.Warnf("[Revoke] Provider %s uses unknown auth method %q, not revoking", cfg.Name, cfg.AuthMethod)
		return nil
	}
	var calls []call
	if t.RefreshToken != "" {
		calls = append(calls, call{cfg: cfg, token: t.RefreshToken, hint: HintRefreshToken, tokenSecret: t.TokenSecret})
	}
	if t.AccessToken != "" {
		calls = append(calls, call{cfg: cfg, token: t.AccessToken, hint: HintAccessToken, tokenSecret: t.TokenSecret})
	}
	return calls
}

func (r *Revoker) run(ctx context.Context, calls []call) Report {
	if len(calls) == 0 {
		return Report{}
	}
	// Revocation must finish even when the triggering request went away.
	ctx = context.WithoutCancel(ctx)

	outcomes := make([]Outcome, len(calls))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = r.send(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return Report{Outcomes: outcomes}
}

func (r *Revoker) send(parent context.Context, c call) Outcome {
	out := Outcome{Provider: c.cfg.Name, Hint: c.hint, URL: c.cfg.RevokeURL}
	b := builders[c.cfg.AuthMethod]

	if err := b.checkConfig(c.cfg); err != nil {
		log.Debugf("[Revoke] Skipping %s %s: %v", c.cfg.Name, c.hint, err)
		out.Skipped = true
		out.Err = err
		r.metrics.Revocation(c.cfg.Name, c.hint, "skipped")
		return out
	}

	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	req, err := b.build(ctx, c, r.signer)
	if err != nil {
		var sigErr *autherr.SignatureError
		if errors.As(err, &sigErr) {
			log.Debugf("[Revoke] Skipping %s %s: %v", c.cfg.Name, c.hint, err)
		} else {
			log.Errorf("[Revoke] Could not build request for %s: %v", c.cfg.Name, err)
		}
		out.Skipped = true
		out.Err = err
		r.metrics.Revocation(c.cfg.Name, c.hint, "skipped")
		return out
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// url.Error repeats the request URL, which may carry the token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		out.Err = &autherr.ProviderNetworkError{Provider: c.cfg.Name, URL: c.cfg.RevokeURL, Err: err}
		log.Warnf("[Revoke] %s %s revocation at %s failed: %v", c.cfg.Name, c.hint, c.cfg.RevokeURL, err)
		r.metrics.Revocation(c.cfg.Name, c.hint, "failed")
		return out
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	out.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Err = &autherr.ProviderAuthError{Provider: c.cfg.Name, URL: c.cfg.RevokeURL, Status: resp.StatusCode}
		log.Warnf("[Revoke] %s %s revocation at %s returned status %d", c.cfg.Name, c.hint, c.cfg.RevokeURL, resp.StatusCode)
		r.metrics.Revocation(c.cfg.Name, c.hint, "failed")
		return out
	}

	log.Debugf("[Revoke] %s %s revoked", c.cfg.Name, c.hint)
	r.metrics.Revocation(c.cfg.Name, c.hint, "ok")
	return out
}

// Tokens is a convenience for revoking a whole identity.
func (r *Revoker) Tokens(ctx context.Context, identity *models.Identity) Report {
	if identity == nil {
		return Report{}
	}
	return r.RevokeAll(ctx, identity.Tokens)
}
