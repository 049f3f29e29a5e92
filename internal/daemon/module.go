package daemon

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/api"
	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/config"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/hotreload"
	"github.com/matheus3301/wxweb/internal/lock"
	"github.com/matheus3301/wxweb/internal/logging"
	"github.com/matheus3301/wxweb/internal/login"
	"github.com/matheus3301/wxweb/internal/message"
	"github.com/matheus3301/wxweb/internal/outbox"
	"github.com/matheus3301/wxweb/internal/reply"
	"github.com/matheus3301/wxweb/internal/roster"
	"github.com/matheus3301/wxweb/internal/session"
	"github.com/matheus3301/wxweb/internal/status"
	"github.com/matheus3301/wxweb/internal/store"
	intsync "github.com/matheus3301/wxweb/internal/sync"
	"github.com/matheus3301/wxweb/internal/wx"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	// Config skips reading config.toml when set.
	Config *config.Config
	// Transport replaces the web client's HTTP transport.
	Transport http.RoundTripper
	// Handlers registers auto-reply handlers before the daemon starts.
	Handlers func(*reply.Registry)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideContacts,
			provideRoster,
			provideQueue,
			provideNormalizer,
			provideHotReload,
			provideLogin,
			provideSyncEngine,
			provideRunner,
			provideSender,
			provideRegistry,
			provideDispatcher,
			fx.Annotate(provideControl, fx.As(new(api.ControlServer))),
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName), p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never migrate one database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideClient(p Params, cfg *config.Config, logger *zap.Logger) *wx.Client {
	return wx.NewClient(wx.Options{
		LoginURL:       cfg.LoginURL,
		WebURL:         cfg.BaseURL,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		PollTimeout:    cfg.PollTimeout,
		ExtSpam:        cfg.ExtSpam,
		Transport:      p.Transport,
	}, logger.Named("wx"))
}

func provideContacts() *contact.Store {
	return contact.NewStore()
}

func provideRoster(client *wx.Client, contacts *contact.Store, logger *zap.Logger) *roster.Roster {
	return roster.New(client, contacts, logger.Named("roster"))
}

func provideQueue() *message.Queue {
	return message.NewQueue()
}

func provideNormalizer(client *wx.Client, contacts *contact.Store, r *roster.Roster, logger *zap.Logger) *message.Normalizer {
	return message.NewNormalizer(contacts, client, r, logger.Named("message"))
}

func provideHotReload(p Params, client *wx.Client, contacts *contact.Store, db *store.DB, logger *zap.Logger) *hotreload.Manager {
	return hotreload.New(client, contacts, db, p.SessionName, logger.Named("hotreload"))
}

func provideLogin(p Params, cfg *config.Config, client *wx.Client, contacts *contact.Store, r *roster.Roster, machine *status.Machine, b *bus.Bus, hot *hotreload.Manager, logger *zap.Logger) *login.Manager {
	opts := login.Options{
		QRPath:    session.QRPath(p.SessionName),
		PushLogin: cfg.PushLogin,
	}
	if cfg.HotReload {
		opts.OnLogin = func() {
			if err := hot.Dump(); err != nil {
				logger.Warn("dump session failed", zap.Error(err))
			}
		}
	}
	return login.NewManager(client, contacts, r, machine, b, logger.Named("login"), opts)
}

func provideSyncEngine(cfg *config.Config, client *wx.Client, contacts *contact.Store, normalizer *message.Normalizer, queue *message.Queue, db *store.DB, mgr *login.Manager, hot *hotreload.Manager, b *bus.Bus, sd fx.Shutdowner, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, contacts, normalizer, queue, db, mgr, b, logger.Named("sync"), intsync.Options{
		RetryCount: cfg.ReceiveRetryCount,
		OnExit: func(reason error) {
			if errors.Is(reason, intsync.ErrStopped) {
				return
			}
			if err := hot.Discard(); err != nil {
				logger.Warn("discard saved session failed", zap.Error(err))
			}
			_ = sd.Shutdown(fx.ExitCode(1))
		},
	})
}

func provideRunner(cfg *config.Config, mgr *login.Manager, hot *hotreload.Manager, engine *intsync.Engine, machine *status.Machine, sd fx.Shutdowner, logger *zap.Logger) *Runner {
	return NewRunner(mgr, hot, engine, machine, cfg.HotReload, func() { _ = sd.Shutdown() }, logger)
}

func provideSender(db *store.DB, client *wx.Client, contacts *contact.Store, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, contacts.SelfUserName, logger.Named("outbox"))
}

func provideRegistry(p Params) *reply.Registry {
	r := reply.NewRegistry()
	if p.Handlers != nil {
		p.Handlers(r)
	}
	return r
}

func provideDispatcher(registry *reply.Registry, queue *message.Queue, client *wx.Client, logger *zap.Logger) *reply.Dispatcher {
	return reply.NewDispatcher(registry, queue, client, logger.Named("reply"))
}

func provideControl(p Params, machine *status.Machine, contacts *contact.Store, db *store.DB, sender *outbox.Sender, runner *Runner, b *bus.Bus) *api.Control {
	return api.NewControl(p.SessionName, machine, contacts, db, sender, runner, b)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, runner *Runner, sender *outbox.Sender, dispatcher *reply.Dispatcher, registry *reply.Registry, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	dispatched := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sender.Start(ctx)

			logger.Info("reply dispatcher starting", zap.Int("handlers", registry.Len()))
			go func() {
				defer close(dispatched)
				dispatcher.Run(ctx)
			}()

			runner.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			runner.Stop()
			sender.Stop()
			cancel()
			<-dispatched
			srv.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
