// Package duelbuilder assembles the authority process from configuration.
package duelbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/catalog"
	"github.com/park285/mathlab-pvp/internal/config"
	"github.com/park285/mathlab-pvp/internal/duelstore"
	"github.com/park285/mathlab-pvp/internal/httpapi"
	"github.com/park285/mathlab-pvp/internal/tournament"
)

type Deps struct {
	Store       *duelstore.Store
	Catalog     catalog.Source
	Repo        *duelstore.Repository
	Tournaments *tournament.Manager
	Server      *httpapi.Server

	pg *catalog.PGSource
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.ValidateAuthority(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	d := &Deps{}
	src, err := d.openCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.Catalog = src

	d.Store, err = duelstore.Open(cfg.RedisURL, src,
		duelstore.WithMatchSize(cfg.MatchSize),
		duelstore.WithStaleAfter(cfg.StaleAfter),
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init duel store: %w", err)
	}

	// Archive (optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		d.Repo, err = duelstore.NewRepository(cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		if err := d.Repo.EnsureSchema(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("archive schema: %w", err)
		}
		d.Store.AttachRepository(d.Repo)
	} else {
		logger.Info("archive_disabled", zap.String("reason", "DATABASE_URL not set"))
	}

	d.Tournaments = Tournaments(d.Store, cfg.TournamentMatchSize)

	d.Server = httpapi.NewServer(httpapi.Config{
		APIKey:         cfg.DataAPIKey,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		MatchSize:      cfg.MatchSize,
	}, d.Store, d.Tournaments, logger)

	logger.Info("authority_ready",
		zap.Bool("pg_catalog", d.pg != nil),
		zap.Bool("archive", d.Repo != nil),
		zap.Int("match_size", cfg.MatchSize),
	)
	return d, nil
}

// Tournaments builds a bracket manager on the store's Redis connection and
// registers it for finished matches.
func Tournaments(store *duelstore.Store, matchSize int) *tournament.Manager {
	tm := tournament.NewManager(store.Redis(), store,
		tournament.WithMatchSize(matchSize),
		tournament.WithNames(func(ctx context.Context, playerID string) string {
			if p, err := store.Profile(ctx, playerID); err == nil && p != nil && p.Name != "" {
				return p.Name
			}
			return playerID
		}),
	)
	store.OnFinish(tm.HandleFinish)
	return tm
}

// openCatalog prefers Postgres when configured, seeding it from the bundled
// problem set, and falls back to the bundled set in memory.
func (d *Deps) openCatalog(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (catalog.Source, error) {
	seed, err := catalog.NewSeedSource()
	if err != nil {
		return nil, fmt.Errorf("load seed problems: %w", err)
	}
	if strings.TrimSpace(cfg.CatalogDatabaseURL) == "" {
		logger.Info("catalog_memory", zap.Int("problems", seed.Len()))
		return seed, nil
	}
	pg, err := catalog.OpenPG(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	if err := pg.Seed(ctx, seed.All()); err != nil {
		pg.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	d.pg = pg
	return pg, nil
}

// Close releases everything New opened. It is safe on a partially built Deps.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Repo != nil {
		if err := d.Repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.pg != nil {
		d.pg.Close()
	}
	return errors.Join(errs...)
}
