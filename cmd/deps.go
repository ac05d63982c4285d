package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cvstore/internal/cache"
	"github.com/spigell/cvstore/internal/config"
	"github.com/spigell/cvstore/internal/fallback"
	"github.com/spigell/cvstore/internal/loader"
	"github.com/spigell/cvstore/internal/logger"
	"github.com/spigell/cvstore/internal/metrics"
	"github.com/spigell/cvstore/internal/remote"
	"github.com/spigell/cvstore/internal/remote/gcs"
	"github.com/spigell/cvstore/internal/remote/github"
	"github.com/spigell/cvstore/internal/remote/memory"
	"github.com/spigell/cvstore/internal/schema"
	"github.com/spigell/cvstore/internal/secrets"
	"github.com/spigell/cvstore/internal/store"
	"github.com/spigell/cvstore/internal/utils"
)

// deps is everything a command needs to talk to the store.
type deps struct {
	config    *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	store     *store.Store
	loader    *loader.Loader
	results   *schema.Collection
	positions *schema.Collection

	close func() error
}

// setup builds the logger and the store stack. Any failure is fatal.
func setup(ctx context.Context) *deps {
	logger, err := logger.Build(logger.Options{
		JSON:  viper.GetBool("json"),
		Debug: viper.GetBool("debug"),
		App:   app,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	cfg, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Debug("starting", zap.String("version", version), zap.String("backend", cfg.Backend))

	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("preparing the store", zap.Error(err))
	}
	return d
}

func newDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	client, closeClient, err := newClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	var results cache.Cache[*loader.Result] = cache.Nop[*loader.Result]{}
	if cfg.Loader.CacheTTL > 0 {
		results = cache.NewTTL[*loader.Result](cfg.Loader.CacheTTL, m)
	}

	mirror := fallback.New(cfg.Layout.MirrorDir, logger)

	st := store.New(client, logger, m, store.Options{
		MaxAttempts: cfg.Store.MaxAttempts,
		Backoff: utils.Backoff{
			Base: cfg.Store.BackoffBase,
			Max:  cfg.Store.BackoffMax,
		},
		Author: cfg.Store.Author,
	})

	ld := loader.New(client, results, mirror, logger, m, loader.Options{Workers: cfg.Loader.Workers})

	return &deps{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		store:     st,
		loader:    ld,
		results:   schema.Results.WithPrefix(cfg.Layout.ResultsPrefix),
		positions: schema.Positions.WithPrefix(cfg.Layout.PositionsPrefix),
		close:     closeClient,
	}, nil
}

func newClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (remote.Client, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendGitHub:
		token, err := resolveToken(cfg)
		if err != nil {
			return nil, nil, err
		}

		var committer *github.Committer
		if cfg.GitHub.Committer.Name != "" && cfg.GitHub.Committer.Email != "" {
			committer = &github.Committer{Name: cfg.GitHub.Committer.Name, Email: cfg.GitHub.Committer.Email}
		}

		return github.New(github.Config{
			Repo:      cfg.GitHub.Repo,
			Branch:    cfg.GitHub.Branch,
			Token:     token,
			APIURL:    cfg.GitHub.APIURL,
			Timeout:   cfg.Store.Timeout,
			Committer: committer,
			UserAgent: app + "/" + version,
		}, logger), noop, nil

	case config.BackendGCS:
		client, err := gcs.New(ctx, gcs.Config{
			Bucket:   cfg.GCS.Bucket,
			Endpoint: cfg.GCS.Endpoint,
			Timeout:  cfg.Store.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil

	case config.BackendMemory:
		logger.Warn("using the in-memory backend, nothing is kept after exit")
		return memory.New(), noop, nil
	}

	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func resolveToken(cfg *config.Config) (string, error) {
	token, err := secrets.Load(secrets.Source{
		Name:  "github token",
		Value: cfg.GitHub.Token,
		File:  cfg.GitHub.TokenFile,
		Env:   "GITHUB_TOKEN",
	})
	if err != nil {
		return "", fmt.Errorf("%w (set github.token-file, CVSTORE_GITHUB_TOKEN or GITHUB_TOKEN)", err)
	}
	return token, nil
}

// finish releases the backend and, with --metrics, prints the collected
// metrics to stderr.
func (d *deps) finish() {
	if viper.GetBool("metrics") {
		if err := d.metrics.Dump(os.Stderr); err != nil {
			d.logger.Warn("dumping metrics", zap.Error(err))
		}
	}
	if err := d.close(); err != nil {
		d.logger.Warn("closing the backend", zap.Error(err))
	}
	_ = d.logger.Sync()
}
