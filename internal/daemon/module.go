package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/api"
	"github.com/telvault/telvault/internal/bus"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/lock"
	"github.com/telvault/telvault/internal/logging"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/session"
	"github.com/telvault/telvault/internal/status"
	"github.com/telvault/telvault/internal/store"
	syncengine "github.com/telvault/telvault/internal/sync"
	"github.com/telvault/telvault/internal/telegram"
	"github.com/telvault/telvault/internal/telegram/bridge"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideFetcher,
			provideManager,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("config unreadable, using defaults", zap.Error(err))
		}
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(p Params, cfg *config.Config, logger *zap.Logger) telegram.Client {
	return bridge.New(cfg.Bridge.URL, p.SessionName, logger)
}

func provideFetcher(p Params, cfg *config.Config, client telegram.Client, logger *zap.Logger) *media.Fetcher {
	root := cfg.Sync.MediaDir
	if root == "" {
		root = session.MediaDir(p.SessionName)
	}
	return media.NewFetcher(client, root, logger)
}

func provideManager(db *store.DB, client telegram.Client, fetcher *media.Fetcher, b *bus.Bus, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *syncengine.Manager {
	return syncengine.NewManager(db, client, fetcher, b, machine, logger,
		cfg.Sync.PageSize, cfg.Sync.DownloadMedia)
}

func provideHandler(p Params, db *store.DB, manager *syncengine.Manager, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, manager, b, machine, logger, p.SessionName)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, client telegram.Client, manager *syncengine.Manager, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			// The bridge connection is established lazily by the first
			// sync task, so the daemon is usable immediately.
			_ = machine.Transition(status.Connecting)
			_ = machine.Transition(status.Ready)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Close()
			if err := client.Close(); err != nil {
				logger.Warn("bridge close failed", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
