package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/auth"
	"github.com/ibero-data/modgate/internal/config"
	"github.com/ibero-data/modgate/internal/database"
	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/modules"
	"github.com/ibero-data/modgate/internal/settings"
	"github.com/ibero-data/modgate/internal/store"
)

// app wires the services every command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	store    store.Store
	settings *settings.Service
	licenses *license.Service
	modules  *modules.Service
	users    *auth.Users
}

// loadConfig reads the config and applies --data and --listen when given.
func (o *cliOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flag("data"); f != nil && f.Changed {
		cfg.DataDir = o.dataDir
	}
	if f := cmd.Flag("listen"); f != nil && f.Changed {
		cfg.ListenAddr = o.listenAddr
	}
	return cfg, nil
}

// openApp loads config and opens the store. Commands other than serve log
// at level, keeping their output readable.
func (o *cliOptions) openApp(cmd *cobra.Command, level string) (*app, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if level == "" {
		level = cfg.Log.Level
	}
	logger, err := logging.New(logging.Environment(cfg.Env), level)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logger)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.settings = settings.New(a.store)
	if cfg.MasterKey != "" {
		a.settings.SetMasterKey(cfg.MasterKey)
	}
	a.licenses = license.NewService(a.store,
		license.WithLogger(logger),
		license.WithTrialDays(cfg.Access.TrialDays),
		license.WithExpiringSoonDays(cfg.Access.ExpiringSoonDays),
	)
	a.modules = modules.NewService(a.store, a.licenses, logger)
	a.users = auth.NewUsers(a.store)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	var err error
	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.store = store.NewMemory()
	case config.DriverSQLite:
		a.db, err = database.New(cfg.SQLitePath())
		if err != nil {
			return err
		}
		if err := a.db.Migrate(); err != nil {
			a.db.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
		a.store = store.NewSQLite(a.db)
	case config.DriverRedis:
		a.store, err = store.NewRedis(ctx, store.RedisConfig{
			Addr:      cfg.Store.RedisAddr,
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisKeyPrefix,
		})
	case config.DriverMongo:
		a.store, err = store.NewMongo(ctx, store.MongoConfig{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDatabase,
		})
	default:
		err = fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Store.Driver)
	}
	if err != nil {
		return err
	}

	if cfg.BreakerEnabled() {
		a.store = store.WithBreaker(a.store, cfg.Store.Driver, store.DefaultBreakerConfig(), a.logger)
	}
	a.logger.Debug("store opened", zap.String("driver", cfg.Store.Driver))
	return nil
}

// jwtSecret is the configured secret or the one persisted in settings.
func (a *app) jwtSecret(ctx context.Context) (string, error) {
	if a.cfg.JWTSecret != "" {
		return a.cfg.JWTSecret, nil
	}
	return a.settings.EnsureSecret(ctx, settings.KeyJWTSecret)
}

func (a *app) Close() error {
	err := a.store.Close()
	if a.db != nil {
		err = errors.Join(err, a.db.Close())
	}
	_ = a.logger.Sync()
	return err
}
