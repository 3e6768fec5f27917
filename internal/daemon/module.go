package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/api"
	"github.com/caioqm/deskchat/internal/backend"
	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/config"
	"github.com/caioqm/deskchat/internal/lock"
	"github.com/caioqm/deskchat/internal/logging"
	"github.com/caioqm/deskchat/internal/media"
	"github.com/caioqm/deskchat/internal/outbox"
	"github.com/caioqm/deskchat/internal/readtrack"
	"github.com/caioqm/deskchat/internal/search"
	"github.com/caioqm/deskchat/internal/session"
	"github.com/caioqm/deskchat/internal/status"
	"github.com/caioqm/deskchat/internal/store"
	msgsync "github.com/caioqm/deskchat/internal/sync"
	"github.com/caioqm/deskchat/internal/transport"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	SessionName string
	ChatID      string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackendClient,
			provideDialer,
			provideManager,
			provideSyncEngine,
			provideQueue,
			provideSender,
			provideStager,
			provideIndex,
			provideTracker,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
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

func provideBackendClient(p Params) *backend.Client {
	return backend.NewClient(p.Config.Server.BaseURL, p.Config.Server.Token)
}

func provideDialer(p Params, client *backend.Client, logger *zap.Logger) *transport.WSDialer {
	heartbeat := time.Duration(p.Config.Transport.HeartbeatMS) * time.Millisecond
	return transport.NewWSDialer(client, heartbeat, logger)
}

func provideManager(p Params, dialer *transport.WSDialer, client *backend.Client, db *store.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Manager {
	t := p.Config.Transport
	return transport.NewManager(dialer, client, db, machine, b, logger, transport.Config{
		DialFailureLimit: t.DialFailureLimit,
		PollInterval:     time.Duration(t.PollIntervalMS) * time.Millisecond,
		BackoffInitial:   time.Duration(t.BackoffInitialMS) * time.Millisecond,
		BackoffMax:       time.Duration(t.BackoffMaxMS) * time.Millisecond,
	})
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *msgsync.Engine {
	return msgsync.NewEngine(db, b, logger)
}

func provideQueue(db *store.DB, b *bus.Bus) *outbox.Queue {
	return outbox.NewQueue(db, b)
}

func provideSender(db *store.DB, client *backend.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger)
}

func provideStager(p Params, client *backend.Client, logger *zap.Logger) *media.Stager {
	a := p.Config.Attachments
	return media.NewStager(client, media.Limits{
		MaxSizeBytes: a.MaxSizeBytes,
		AllowedTypes: a.AllowedTypes,
	}, logger)
}

func provideIndex(db *store.DB) *search.Index {
	return search.NewIndex(db)
}

func provideTracker(db *store.DB, client *backend.Client, b *bus.Bus, logger *zap.Logger) *readtrack.Tracker {
	return readtrack.NewTracker(db, client, b, logger)
}

func provideServer(p Params, db *store.DB, machine *status.Machine, manager *transport.Manager, queue *outbox.Queue, stager *media.Stager, index *search.Index, logger *zap.Logger) *api.Server {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	return api.NewServer(socketPath, api.Deps{
		DB:      db,
		Machine: machine,
		Manager: manager,
		Queue:   queue,
		Stager:  stager,
		Index:   index,
	}, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *api.Server, lk *lock.Lock, manager *transport.Manager, engine *msgsync.Engine, sender *outbox.Sender, tracker *readtrack.Tracker, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine subscribes before the manager opens, so the
			// first inbound events are never lost.
			engine.Start(context.Background())
			tracker.Start(context.Background())
			sender.Start(context.Background())

			if err := srv.Start(); err != nil {
				return err
			}
			manager.Open(p.ChatID)
			logger.Info("daemon started",
				zap.String("session", p.SessionName),
				zap.String("chat", p.ChatID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Close()
			sender.Stop()
			tracker.Stop()
			engine.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping control api", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
