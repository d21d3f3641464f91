// Package daemon composes the profile daemon with fx.
package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/bubbled/internal/api"
	"github.com/matheus3301/bubbled/internal/bus"
	"github.com/matheus3301/bubbled/internal/config"
	"github.com/matheus3301/bubbled/internal/lock"
	"github.com/matheus3301/bubbled/internal/logging"
	"github.com/matheus3301/bubbled/internal/media"
	"github.com/matheus3301/bubbled/internal/mutation"
	"github.com/matheus3301/bubbled/internal/profile"
	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/status"
	"github.com/matheus3301/bubbled/internal/store"
	bsync "github.com/matheus3301/bubbled/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Shutdown bounds.
const (
	pollerStopTimeout = 2 * time.Second
	engineStopTimeout = 5 * time.Second
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
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
			provideRemote,
			provideReconciler,
			provideEngine,
			providePoller,
			provideCoordinator,
			provideAvatars,
			provideAttachments,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Profile, error) {
	path := profile.ConfigPath(p.ProfileName)
	cfg, err := config.LoadProfile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("config loaded", zap.String("path", path), zap.String("server", cfg.Server.URL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock")
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetLogger(logger.Named("store"))
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

func provideRemote(cfg *config.Profile, logger *zap.Logger) *remote.Client {
	rc := remote.NewClient(cfg.Server.URL, cfg.Server.Password,
		remote.WithAPIMethod(cfg.Server.APIMethod),
		remote.WithTimeout(cfg.Timeout()),
	)
	logger.Info("remote configured", zap.String("url", rc.BaseURL()), zap.String("api_method", cfg.Server.APIMethod))
	return rc
}

func provideReconciler(db *store.DB, logger *zap.Logger) *bsync.Reconciler {
	return bsync.NewReconciler(db, logger.Named("reconciler"))
}

func provideEngine(db *store.DB, rec *bsync.Reconciler, rc *remote.Client, cfg *config.Profile, logger *zap.Logger) *bsync.Engine {
	e := bsync.NewEngine(db, rec, rc, logger.Named("engine"))
	e.SetTaskTimeout(2 * cfg.Timeout())
	return e
}

func providePoller(db *store.DB, rec *bsync.Reconciler, m *status.Machine, cfg *config.Profile, logger *zap.Logger) *bsync.Poller {
	return bsync.NewPoller(db, rec, m, bsync.PollerConfig{
		ChatPage:         cfg.Sync.ChatPage,
		MessagesPerChat:  cfg.Sync.MessagesPerChat,
		ChatRefreshEvery: cfg.ChatRefreshSweeps(),
	}, logger.Named("poller"))
}

func provideCoordinator(db *store.DB, rec *bsync.Reconciler, rc *remote.Client, b *bus.Bus, logger *zap.Logger) *mutation.Coordinator {
	return mutation.NewCoordinator(db, rec, rc, b, logger.Named("mutation"))
}

func provideAvatars(p Params, cfg *config.Profile, rc *remote.Client, logger *zap.Logger) (*media.Avatars, error) {
	c, err := media.NewCache(profile.AvatarDir(p.ProfileName),
		media.WithValidator(media.ImageValidator),
		media.WithMemoryEntries(cfg.Media.MemoryEntries),
		media.WithLogger(logger.Named("avatars")),
	)
	if err != nil {
		return nil, err
	}
	return media.NewAvatars(c, rc), nil
}

func provideAttachments(p Params, cfg *config.Profile, rc *remote.Client, logger *zap.Logger) (*media.Attachments, error) {
	c, err := media.NewCache(profile.AttachmentDir(p.ProfileName),
		media.WithMemoryEntries(cfg.Media.MemoryEntries),
		media.WithLogger(logger.Named("attachments")),
	)
	if err != nil {
		return nil, err
	}
	return media.NewAttachments(c, rc, logger.Named("attachments")), nil
}

func provideService(
	p Params,
	cfg *config.Profile,
	m *status.Machine,
	db *store.DB,
	engine *bsync.Engine,
	poller *bsync.Poller,
	coord *mutation.Coordinator,
	avatars *media.Avatars,
	attachments *media.Attachments,
	logger *zap.Logger,
) *api.Service {
	return api.NewService(api.ServiceConfig{Profile: p.ProfileName, ChatPage: cfg.Sync.ChatPage},
		m, db, engine, poller, coord, avatars, attachments, logger.Named("control"))
}

// lifecycleDeps is the set of components the lifecycle hooks drive.
type lifecycleDeps struct {
	fx.In

	Params Params
	Config *config.Profile
	Server *Server
	Lock   *lock.Lock
	DB     *store.DB
	Remote *remote.Client
	Engine *bsync.Engine
	Poller *bsync.Poller
	Bus    *bus.Bus
	Logger *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, rt lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())
	logger := rt.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := rt.Server.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			rt.Poller.Subscribe(bsync.BusObserver{Bus: rt.Bus})

			// The first sweep needs cached chats, so polling starts once the
			// initial chat sync has finished, successfully or not.
			err := rt.Engine.Go("initial-sync", func(ctx context.Context) error {
				defer rt.Poller.Start(runCtx, rt.Remote, rt.Config.PollInterval())
				chats, err := rt.Engine.SyncChats(ctx, rt.Config.Sync.ChatPage)
				if err != nil {
					return err
				}
				rt.Bus.Emit(bus.KindSyncChats, len(chats))
				return nil
			})
			if err != nil {
				return err
			}

			go watchConfig(runCtx, rt)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			if !rt.Poller.Stop(pollerStopTimeout) {
				logger.Warn("poller still finishing a request at shutdown")
			}
			rt.Engine.Stop(engineStopTimeout)
			rt.Server.Stop(ctx)
			if err := rt.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if err := rt.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// watchConfig hot-applies the poll interval. Server settings are read once
// at startup.
func watchConfig(ctx context.Context, rt lifecycleDeps) {
	path := profile.ConfigPath(rt.Params.ProfileName)
	current := rt.Config.Server
	err := config.Watch(ctx, path, rt.Logger, func(p *config.Profile) {
		rt.Poller.SetInterval(p.PollInterval())
		rt.Logger.Info("config reloaded", zap.Duration("poll_interval", p.PollInterval()))
		if p.Server != current {
			rt.Logger.Warn("server settings changed; restart the daemon to apply them")
		}
		rt.Bus.Emit(bus.KindConfigReloaded, p.PollInterval())
	})
	if err != nil {
		rt.Logger.Warn("config watch stopped", zap.Error(err))
	}
}
