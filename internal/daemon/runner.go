package daemon

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/hotreload"
	"github.com/matheus3301/wxweb/internal/status"
	"github.com/matheus3301/wxweb/internal/wx"
)

// Login is the part of *login.Manager the runner drives.
type Login interface {
	Login(ctx context.Context) error
	Resume() error
	Logout(ctx context.Context)
}

// HotReload is the part of *hotreload.Manager the runner drives.
type HotReload interface {
	Load(ctx context.Context) (*wx.SyncResult, error)
	Dump() error
	Discard() error
}

// Receiver is the part of *sync.Engine the runner drives.
type Receiver interface {
	Start(ctx context.Context)
	Stop()
	Done() <-chan struct{}
	Deliver(ctx context.Context, res *wx.SyncResult)
}

// Runner brings the account online once the daemon is up: it resumes a saved
// session when hot reload is on, falls back to a QR login, then starts
// receiving. It also owns the orderly logout requested over the API.
type Runner struct {
	login     Login
	hot       HotReload
	receiver  Receiver
	machine   *status.Machine
	hotReload bool
	shutdown  func()
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. shutdown is called when the session ends for
// good (a failed login or an explicit logout).
func NewRunner(login Login, hot HotReload, receiver Receiver, machine *status.Machine, hotReload bool, shutdown func(), logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Runner{
		login:     login,
		hot:       hot,
		receiver:  receiver,
		machine:   machine,
		hotReload: hotReload,
		shutdown:  shutdown,
		logger:    logger,
	}
}

// Start logs in in the background.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		if err := r.run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("login failed", zap.Error(err))
			r.shutdown()
		}
	}()
}

func (r *Runner) run(ctx context.Context) error {
	if r.hotReload {
		res, err := r.hot.Load(ctx)
		switch {
		case err == nil:
			if err := r.login.Resume(); err != nil {
				return err
			}
			r.receiver.Deliver(ctx, res)
			r.receiver.Start(ctx)
			return nil
		case errors.Is(err, hotreload.ErrNoSnapshot):
			r.logger.Debug("no saved session")
		default:
			r.logger.Info("saved session not restored, logging in again", zap.Error(err))
		}
	}
	if err := r.login.Login(ctx); err != nil {
		return err
	}
	r.receiver.Start(ctx)
	return nil
}

// Stop aborts a pending login, stops receiving and, with hot reload on,
// dumps a bootstrapped session for the next start.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	r.stopReceiving()
	if r.hotReload && r.machine.Current() == status.Bootstrapped {
		if err := r.hot.Dump(); err != nil {
			r.logger.Warn("dump session failed", zap.Error(err))
		} else {
			r.logger.Info("session dumped for hot reload")
		}
	}
}

// Logout ends the session, forgets the saved copy and shuts the daemon down.
func (r *Runner) Logout(ctx context.Context) {
	r.stopReceiving()
	r.login.Logout(ctx)
	if err := r.hot.Discard(); err != nil {
		r.logger.Warn("discard saved session failed", zap.Error(err))
	}
	r.shutdown()
}

func (r *Runner) stopReceiving() {
	r.receiver.Stop()
	if done := r.receiver.Done(); done != nil {
		<-done
	}
}
