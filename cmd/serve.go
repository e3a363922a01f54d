package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/urfave/cli/v2"

	"github.com/relaychat/internal/api"
	"github.com/relaychat/internal/chat"
	"github.com/relaychat/internal/config"
	"github.com/relaychat/internal/database"
	"github.com/relaychat/internal/modelregistry"
	"github.com/relaychat/internal/titlegen"
	"github.com/relaychat/internal/usage"
	"github.com/relaychat/internal/websearch"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the RelayChat API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if port := c.Int("port"); port != 0 {
		cfg.Server.Port = port
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		return err
	}

	store := chat.NewPostgresStore(db)
	meter := usage.NewPostgresMeter(db)
	registry := modelregistry.New()

	search := websearch.NewClient(websearch.Config{
		BaseURL:    cfg.Search.BaseURL,
		APIKey:     cfg.Search.APIKey,
		Timeout:    time.Duration(cfg.Search.TimeoutSecs) * time.Second,
		MaxResults: cfg.Search.MaxResults,
	})

	dbURL, err := database.ResolveURL(cfg.Database.URL)
	if err != nil {
		return err
	}

	titles, err := newTitleQueue(c.Context, dbURL, cfg, store, registry)
	if err != nil {
		return fmt.Errorf("failed to start title queue: %w", err)
	}
	if err := titles.Start(c.Context); err != nil {
		return fmt.Errorf("failed to start job workers: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := titles.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("Job queue did not stop cleanly")
		}
	}()

	orchestrator := chat.NewOrchestrator(store, meter, registry, search, titles, nil, chat.Options{
		SystemPrompt:    cfg.Chat.SystemPrompt,
		MaxSteps:        cfg.Chat.MaxSteps,
		FreeTokenLimit:  cfg.Chat.FreeTokenLimit,
		ProviderTimeout: time.Duration(cfg.Chat.ProviderTimeoutSecs) * time.Second,
	})

	server := api.NewServer(cfg, db, store, meter, registry, orchestrator)
	return server.Start()
}

// newTitleQueue wires the background title worker against the configured
// default model.
func newTitleQueue(ctx context.Context, dbURL string, cfg *config.Config, store chat.Store, registry *modelregistry.Registry) (*titlegen.Queue, error) {
	entry, err := registry.Resolve(cfg.Chat.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}
	provider := cfg.Providers[string(entry.Vendor)]

	newModel := func(ctx context.Context) (llms.Model, error) {
		return entry.NewModel(ctx, modelregistry.Credentials{
			Default: provider.APIKey,
			BaseURL: provider.BaseURL,
		})
	}

	return titlegen.NewQueue(ctx, dbURL, titlegen.NewWorker(store, newModel))
}
