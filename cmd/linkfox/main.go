package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
	"github.com/ManuelReschke/LinkFox/internal/pkg/database"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	"github.com/ManuelReschke/LinkFox/internal/pkg/refresh"
	"github.com/ManuelReschke/LinkFox/internal/pkg/router"
	"github.com/ManuelReschke/LinkFox/internal/pkg/services"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var providersFile string

	root := &cobra.Command{
		Use:          "linkfox",
		Short:        "Sign in with OAuth providers, link accounts and manage provider tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap(providersFile)
		},
	}
	root.PersistentFlags().StringVar(&providersFile, "providers", env.GetEnv("PROVIDERS_FILE", ""),
		"YAML file with provider overrides (env PROVIDERS_FILE)")

	root.AddCommand(newServeCommand(), newProvidersCommand(), newRevokeCommand(), newRefreshCommand())
	return root
}

// bootstrap loads configuration and wires the process-wide services
func bootstrap(providersFile string) error {
	env.SetupEnvFile()

	registry, err := provider.Load(env.GetEnv, providersFile)
	if err != nil {
		return err
	}

	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())

	var locker refresh.Locker
	if !database.UsesMemory() {
		cache.SetupCache()
		locker = cache.NewRedisLocker(cache.GetClient())
	}

	services.Initialize(services.New(registry, repository.GetGlobalRepositories(), locker))
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication()
			return app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
		},
	}
}

// NewApplication builds the fiber app. bootstrap must have run.
func NewApplication() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "LinkFox",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(services.Get().Metrics.Handler()))

	// ROUTER
	router.InstallRouter(app)

	return app
}

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tAUTH METHOD\tENABLED\tREVOKE URL")
			for _, cfg := range services.Get().Registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", cfg.Name, cfg.AuthMethod, cfg.Enabled(), cfg.RevokeURL)
			}
			return w.Flush()
		},
	}
}

func newRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <identity-id>",
		Short: "Revoke every stored provider token of an identity at the providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			report, err := services.Get().Accounts.RevokeTokens(cmd.Context(), id)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tHINT\tSTATUS\tRESULT")
			for _, o := range report.Outcomes {
				result := "ok"
				switch {
				case o.Skipped:
					result = "skipped: " + o.Err.Error()
				case o.Err != nil:
					result = o.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", o.Provider, o.Hint, o.Status, result)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed := len(report.Failed()); failed > 0 {
				return fmt.Errorf("%d of %d revocations failed (%d requests sent)", failed, len(report.Outcomes), report.Calls())
			}
			return nil
		},
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <identity-id> <provider>",
		Short: "Make sure the identity holds a usable access token for the provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s := services.Get()
			ctx := cmd.Context()
			identity, err := s.Repos.Identity.GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("load identity %d: %w", id, err)
			}
			res := s.Gate.EnsureFresh(ctx, identity, args[1])
			if res.Status != refresh.Ready {
				log.Warnf("[Refresh] %s: %s", args[1], res.Reason)
				return fmt.Errorf("%s for %s: re-authorize the provider", res.Status, args[1])
			}
			expires := "never"
			if res.Token.AccessTokenExpires != nil {
				expires = res.Token.AccessTokenExpires.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ready, refreshed=%t, expires=%s\n", args[1], res.Attempt != nil, expires)
			return nil
		},
	}
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid identity id %q", raw)
	}
	return uint(id), nil
}
