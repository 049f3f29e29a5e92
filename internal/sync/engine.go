package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/message"
	"github.com/matheus3301/wxweb/internal/store"
	"github.com/matheus3301/wxweb/internal/wx"
)

// Client is the part of *wx.Client the loop polls.
type Client interface {
	Session() wx.Session
	SyncCheck(ctx context.Context) (retcode, selector string, err error)
	Sync(ctx context.Context) (*wx.SyncResult, error)
}

// Normalizer turns raw sync messages into envelopes.
type Normalizer interface {
	Normalize(ctx context.Context, raws []wx.RawMessage) []*message.Envelope
}

// Archiver persists envelopes and the sync cursor. *store.DB satisfies it.
type Archiver interface {
	Archive(items []store.ArchiveItem) error
	SetCheckpoint(key, value string) error
}

// Session ends the logged-in session when the loop gives up.
type Session interface {
	Logout(ctx context.Context)
}

// Options tunes the loop.
type Options struct {
	// RetryCount is how many consecutive non-timeout failures are tolerated.
	RetryCount    int
	RetryInterval time.Duration
	// OnExit runs once after the loop has stopped, whatever the reason.
	OnExit func(reason error)
}

// Stopped is the payload of a sync.stopped event.
type Stopped struct {
	Reason string
}

// Engine runs the long-poll receive loop of a logged-in session.
type Engine struct {
	client     Client
	contacts   *contact.Store
	normalizer Normalizer
	queue      *message.Queue
	archive    Archiver
	session    Session
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a sync engine. archive, session and b may be nil.
func NewEngine(client Client, contacts *contact.Store, normalizer Normalizer, queue *message.Queue, archive Archiver, session Session, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = time.Second
	}
	return &Engine{
		client:     client,
		contacts:   contacts,
		normalizer: normalizer,
		queue:      queue,
		archive:    archive,
		session:    session,
		bus:        b,
		logger:     logger,
		opts:       opts,
	}
}

// Start launches the loop. A second Start while running is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		select {
		case <-e.done:
		default:
			return
		}
	}
	ctx, e.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	e.done = done

	go func() {
		defer close(done)
		e.run(ctx)
	}()
}

// Stop asks the loop to exit. An in-flight poll is abandoned.
//
// Unlike a server-side exit, Stop performs no logout cleanup: the session
// stays logged in so it can be dumped and hot-reloaded later. Callers that
// want the session gone must log out themselves.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Done is closed once the loop has exited. It is nil before Start.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// ErrStopped is the exit reason when Stop ended the loop.
var ErrStopped = errors.New("sync stopped")

func (e *Engine) run(ctx context.Context) {
	e.logger.Info("start receiving")
	reason := e.loop(ctx)

	if errors.Is(reason, ErrStopped) {
		e.logger.Info("receiving stopped")
	} else {
		e.logger.Error("receiving ended, logging out", zap.Error(reason))
		if e.session != nil {
			e.session.Logout(context.WithoutCancel(ctx))
		}
	}
	e.bus.Emit(bus.KindSyncStopped, Stopped{Reason: reason.Error()})
	if e.opts.OnExit != nil {
		e.opts.OnExit(reason)
	}
}

// loop polls until a fatal status, an exhausted retry budget or ctx ends.
func (e *Engine) loop(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return ErrStopped
		}
		stop, err := e.step(ctx)
		switch {
		case ctx.Err() != nil:
			return ErrStopped
		case err == nil:
			failures = 0
			if stop != nil {
				return stop
			}
		case wx.IsTimeout(err):
			e.logger.Debug("sync poll timed out", zap.Error(err))
		default:
			failures++
			e.logger.Error("sync failed", zap.Int("failures", failures), zap.Error(err))
			if failures > e.opts.RetryCount {
				return fmt.Errorf("retry budget exhausted: %w", err)
			}
			if sleep(ctx, e.opts.RetryInterval) != nil {
				return ErrStopped
			}
		}
	}
}

// step runs one iteration. A non-nil stop ends the loop without counting as
// a failure.
func (e *Engine) step(ctx context.Context) (stop error, err error) {
	retcode, selector, err := e.client.SyncCheck(ctx)
	if errors.Is(err, wx.ErrSyncCheckFailed) {
		return err, nil
	}
	if err != nil {
		return nil, err
	}
	if retcode != "0" {
		return fmt.Errorf("synccheck retcode %s", retcode), nil
	}
	if selector == wx.SelectorNone {
		return nil, nil
	}

	res, err := e.client.Sync(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	e.Deliver(ctx, res)
	return nil, nil
}

// Deliver normalizes, queues and archives one sync result. The loop calls it
// for every sync; a restored session calls it for its first one.
func (e *Engine) Deliver(ctx context.Context, res *wx.SyncResult) {
	envs := e.normalizer.Normalize(ctx, res.Messages)
	if sys := e.mergeContacts(res.Contacts); sys != nil {
		envs = append(envs, sys)
	}
	e.queue.Put(envs...)
	for _, env := range envs {
		e.bus.Emit(bus.KindMessageReceived, env)
	}
	e.persist(envs)
}

// mergeContacts folds a contact delta into the store and returns the System
// envelope announcing changed groups, or nil.
func (e *Engine) mergeContacts(raws []wx.RawContact) *message.Envelope {
	if len(raws) == 0 {
		return nil
	}
	groups, others := wx.SplitContacts(raws)
	if len(others) > 0 {
		ch := e.contacts.MergeFriends(others)
		e.bus.Emit(bus.KindContactsChanged, ch)
	}
	if len(groups) == 0 {
		return nil
	}
	ch := e.contacts.MergeGroups(groups, contact.FullMembers)
	e.bus.Emit(bus.KindContactsChanged, ch)
	e.logger.Debug("groups updated", zap.Strings("user_names", ch.UserNames))
	return message.SystemEnvelope(ch, e.contacts.SelfUserName())
}

func (e *Engine) persist(envs []*message.Envelope) {
	if e.archive == nil {
		return
	}
	self := e.contacts.SelfUserName()
	items := make([]store.ArchiveItem, 0, len(envs))
	for _, env := range envs {
		if it, ok := archiveItem(env, self); ok {
			items = append(items, it)
		}
	}
	if err := e.archive.Archive(items); err != nil {
		e.logger.Error("archive messages failed", zap.Int("count", len(items)), zap.Error(err))
	}
	if err := e.archive.SetCheckpoint(store.CheckpointSyncKey, e.client.Session().SyncKey.String()); err != nil {
		e.logger.Warn("save sync checkpoint failed", zap.Error(err))
	}
	if err := e.archive.SetCheckpoint(store.CheckpointLastSync, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("save last sync checkpoint failed", zap.Error(err))
	}
}

// archiveItem maps an envelope to its archive row. System and Useless
// envelopes are not archived.
func archiveItem(env *message.Envelope, self string) (store.ArchiveItem, bool) {
	if env.MsgID == "" || env.Type == message.System || env.Type == message.Useless {
		return store.ArchiveItem{}, false
	}
	sender := env.FromUserName
	senderName := ""
	if env.IsGroup {
		sender = env.ActualUserName
		senderName = env.ActualNickName
	} else if sender != self {
		senderName = displayName(env.User)
	}
	body := env.Text
	if body == "" {
		body = env.FileName
	}
	return store.ArchiveItem{
		Message: store.Message{
			ChatID:     env.User.UserName,
			MsgID:      env.MsgID,
			SenderID:   sender,
			SenderName: senderName,
			Body:       body,
			Type:       string(env.Type),
			FileName:   env.FileName,
			FromMe:     sender == self,
			IsAt:       env.IsAt,
			Status:     "received",
			Timestamp:  env.CreateTime * 1000,
		},
		ChatName: displayName(env.User),
		IsGroup:  env.User.Kind == contact.KindGroup,
	}, true
}

func displayName(c contact.Contact) string {
	if c.RemarkName != "" {
		return c.RemarkName
	}
	return c.NickName
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
