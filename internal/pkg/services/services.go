// Package services wires the registry, the identity store and the token
// lifecycle components together for the HTTP server and the CLI.
package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/accounts"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
	"github.com/ManuelReschke/LinkFox/internal/pkg/linker"
	"github.com/ManuelReschke/LinkFox/internal/pkg/metrics"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	"github.com/ManuelReschke/LinkFox/internal/pkg/refresh"
	"github.com/ManuelReschke/LinkFox/internal/pkg/revoke"
)

type Services struct {
	Registry *provider.Registry
	Repos    *repository.Repositories
	Metrics  *metrics.Recorder
	Revoker  *revoke.Revoker
	Gate     *refresh.Gate
	Linker   *linker.Linker
	Accounts *accounts.Service
}

// New builds every component. locker may be nil to refresh without a
// cross-process lock.
func New(registry *provider.Registry, repos *repository.Repositories, locker refresh.Locker) *Services {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(promRegistry)
	client := &http.Client{}

	revoker := revoke.New(registry, revoke.Options{
		Client:      client,
		Timeout:     env.GetDurationEnv("REVOKE_TIMEOUT", revoke.DefaultTimeout),
		Concurrency: env.GetIntEnv("REVOKE_CONCURRENCY", revoke.DefaultConcurrency),
		Metrics:     recorder,
	})

	refreshOpts := refresh.Options{
		Client:  client,
		Skew:    env.GetDurationEnv("TOKEN_REFRESH_SKEW", refresh.DefaultSkew),
		Timeout: env.GetDurationEnv("TOKEN_REFRESH_TIMEOUT", refresh.DefaultTimeout),
		Metrics: recorder,
	}
	if locker != nil {
		refreshOpts.Locker = locker
	}

	return &Services{
		Registry: registry,
		Repos:    repos,
		Metrics:  recorder,
		Revoker:  revoker,
		Gate:     refresh.New(registry, repos.Identity, refreshOpts),
		Linker:   linker.New(repos.Identity, registry, recorder),
		Accounts: accounts.NewService(repos.Identity, revoker),
	}
}

var global *Services

// Initialize sets the process-wide services used by the controllers.
func Initialize(s *Services) {
	global = s
}

// Get returns the process-wide services.
func Get() *Services {
	if global == nil {
		panic("services not initialized. Call Initialize first.")
	}
	return global
}
