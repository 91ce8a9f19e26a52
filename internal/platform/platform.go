// Package platform opens the backend driver a process is configured for.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"flavorfind/internal/config"
	"flavorfind/internal/data"
	"flavorfind/internal/dsl"
	"flavorfind/internal/logging"
	"flavorfind/internal/manifest"
	"flavorfind/internal/metrics"
	"flavorfind/internal/pg"
	"flavorfind/internal/seed"
	"flavorfind/internal/store"
)

type Platform struct {
	Backend data.Backend
	Schemas map[string]*dsl.Entity
	closers []func() error
}

func (p *Platform) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// LoadSchemas reads *.dsl files under dir, or the built-in schema when dir
// is empty or missing.
func LoadSchemas(dir string) (map[string]*dsl.Entity, error) {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			ents, err := dsl.LoadAllEntities(dir)
			if err != nil {
				return nil, err
			}
			if len(ents) > 0 {
				return ents, nil
			}
		}
	}
	return dsl.Builtin()
}

// LoadSeed reads the seed file, falling back to the built-in demo catalog.
func LoadSeed(path string) (*seed.Catalog, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return seed.Load(path)
		}
	}
	return seed.Demo()
}

// Open builds the backend named by cfg.BackendDriver. Embedded drivers are
// seeded. m may be nil.
func Open(ctx context.Context, cfg config.Config, m *metrics.Metrics, log *logrus.Logger) (*Platform, error) {
	if log == nil {
		log = logging.Discard().Logger
	}
	schemas, err := LoadSchemas(cfg.DSLDir)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	p := &Platform{Schemas: schemas}

	var backend data.Backend
	switch cfg.BackendDriver {
	case config.DriverRemote:
		backend, err = manifest.New(manifest.Config{
			BaseURL: cfg.BackendURL,
			AppID:   cfg.AppID,
			Schemas: schemas,
			Log:     logging.Component(log, "manifest"),
		})
		if err != nil {
			return nil, err
		}

	case config.DriverMemory, config.DriverPostgres:
		repo, err := p.repository(ctx, cfg, log)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		st, err := store.New(repo, schemas, store.Options{
			Secret:     []byte(cfg.JWTSecret),
			SessionTTL: cfg.SessionTTL.Duration,
			Log:        logging.Component(log, "store"),
		})
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		cat, err := LoadSeed(cfg.SeedFile)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("load seed: %w", err)
		}
		if err := st.Seed(ctx, cat); err != nil {
			_ = p.Close()
			return nil, err
		}
		backend = st

	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.BackendDriver)
	}

	if m != nil {
		backend = m.Backend(backend, cfg.BackendDriver)
	}
	p.Backend = backend
	log.WithFields(logrus.Fields{"driver": cfg.BackendDriver, "entities": len(schemas)}).Info("backend ready")
	return p, nil
}

func (p *Platform) repository(ctx context.Context, cfg config.Config, log *logrus.Logger) (store.Repository, error) {
	if cfg.BackendDriver == config.DriverMemory {
		return store.NewMemoryRepository(), nil
	}
	db, err := pg.Open(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p.closers = append(p.closers, db.Close)

	ddl, err := pg.GenerateDDL(p.Schemas)
	if err != nil {
		return nil, err
	}
	if err := pg.ApplyDDL(ctx, db, ddl, logging.Component(log, "pg")); err != nil {
		return nil, err
	}
	return pg.NewRepository(db), nil
}
