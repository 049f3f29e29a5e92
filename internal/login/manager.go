package login

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/status"
	"github.com/matheus3301/wxweb/internal/wx"
)

var (
	// ErrAccountRestricted is returned when a confirmed scan does not yield
	// a usable session. It is not retried.
	ErrAccountRestricted = wx.ErrAccountRestricted
	// ErrLoginAborted is returned when the scan poll reports an unknown code.
	ErrLoginAborted = errors.New("login aborted")
	// ErrAlreadyLoggedIn is returned by Login while a session is active or
	// another attempt is running.
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// Client is the part of *wx.Client the login flow drives.
type Client interface {
	Session() wx.Session
	QRUUID(ctx context.Context) (string, error)
	QRPayload(uuid string) string
	PushLogin(ctx context.Context) (string, bool)
	CheckLogin(ctx context.Context, uuid string) (wx.ScanStatus, error)
	Init(ctx context.Context) (*wx.InitResult, error)
	StatusNotify(ctx context.Context) wx.Result
	Logout(ctx context.Context)
}

// ContactLoader loads the full contact list after init.
type ContactLoader interface {
	FetchAll(ctx context.Context) (groups, others contact.Change, err error)
}

// QRCallback receives the QR image and every scan status polled for it.
// png is empty after a push login.
type QRCallback func(uuid string, st wx.ScanStatus, png []byte)

// Options tunes the login flow.
type Options struct {
	// QRPath is where the QR image is written. Empty disables the file.
	QRPath     string
	QRCallback QRCallback
	// OnLogin runs once the session is bootstrapped.
	OnLogin   func()
	PushLogin bool

	RetryInterval time.Duration // between uuid requests (1s)
	ScannedWait   time.Duration // once after the first "scanned" (7s)
	PollInterval  time.Duration // after each "scanned" poll (500ms)
}

func (o *Options) applyDefaults() {
	if o.RetryInterval == 0 {
		o.RetryInterval = time.Second
	}
	if o.ScannedWait == 0 {
		o.ScannedWait = 7 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 500 * time.Millisecond
	}
}

// Manager runs the QR login state machine and the post-login bootstrap.
type Manager struct {
	client  Client
	store   *contact.Store
	loader  ContactLoader
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu      sync.Mutex
	running bool
}

// NewManager creates a login manager.
func NewManager(client Client, store *contact.Store, loader ContactLoader, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Manager{
		client:  client,
		store:   store,
		loader:  loader,
		machine: machine,
		bus:     b,
		logger:  logger,
		opts:    opts,
	}
}

// Machine returns the state machine the manager drives.
func (m *Manager) Machine() *status.Machine { return m.machine }

// Login blocks until the account is logged in and bootstrapped, ctx is done,
// or the attempt fails permanently.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.machine.Current() == status.Bootstrapped {
		m.mu.Unlock()
		m.logger.Warn("login requested while already logged in")
		return ErrAlreadyLoggedIn
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.machine.Reset()
	m.logger.Info("ready to login")
	if err := m.scan(ctx); err != nil {
		m.machine.Reset()
		return err
	}
	if err := m.Bootstrap(ctx); err != nil {
		m.client.Logout(context.WithoutCancel(ctx))
		m.machine.Reset()
		return err
	}
	m.removeQR()
	if m.opts.OnLogin != nil {
		m.opts.OnLogin()
	}
	return nil
}

// scan loops through QR challenges until one is confirmed.
func (m *Manager) scan(ctx context.Context) error {
	first := true
	for {
		uuid, png, err := m.challenge(ctx, first)
		if err != nil {
			return err
		}
		first = false
		if err := m.machine.Transition(status.PollingScan); err != nil {
			return err
		}

		confirmed, err := m.poll(ctx, uuid, png)
		if err != nil {
			return err
		}
		if confirmed {
			return m.machine.Transition(status.Confirmed)
		}
		m.logger.Info("login timed out, reloading QR code")
		if err := m.machine.Transition(status.AwaitingQR); err != nil {
			return err
		}
	}
}

// challenge obtains a uuid to poll, through push login on the first round
// when possible, otherwise by requesting and rendering a QR code.
func (m *Manager) challenge(ctx context.Context, first bool) (uuid string, png []byte, err error) {
	if first && m.opts.PushLogin {
		if uuid, ok := m.client.PushLogin(ctx); ok {
			m.logger.Info("push login sent, confirm on the phone")
			return uuid, nil, nil
		}
	}
	if m.machine.Current() == status.Idle {
		if err := m.machine.Transition(status.AwaitingQR); err != nil {
			return "", nil, err
		}
	}

	m.logger.Info("getting uuid of QR code")
	for {
		uuid, err = m.client.QRUUID(ctx)
		if err == nil {
			break
		}
		m.logger.Debug("no uuid yet", zap.Error(err))
		if err := sleep(ctx, m.opts.RetryInterval); err != nil {
			return "", nil, err
		}
	}

	png, err = qrcode.Encode(m.client.QRPayload(uuid), qrcode.Medium, 256)
	if err != nil {
		return "", nil, fmt.Errorf("render QR: %w", err)
	}
	if m.opts.QRPath != "" {
		if err := os.WriteFile(m.opts.QRPath, png, 0600); err != nil {
			m.logger.Warn("write QR image failed", zap.String("path", m.opts.QRPath), zap.Error(err))
		} else {
			m.logger.Info("QR code written, scan it with the phone", zap.String("path", m.opts.QRPath))
		}
	}
	m.bus.Emit(bus.KindQRCode, QRCode{UUID: uuid, Payload: m.client.QRPayload(uuid), PNG: png})
	return uuid, png, nil
}

// poll checks the scan status of uuid until it is confirmed (true) or the
// code expires (false).
func (m *Manager) poll(ctx context.Context, uuid string, png []byte) (bool, error) {
	scanned := false
	for {
		st, err := m.client.CheckLogin(ctx, uuid)
		switch {
		case errors.Is(err, wx.ErrAccountRestricted):
			m.logger.Error("login rejected", zap.Error(err))
			return false, err
		case ctx.Err() != nil:
			return false, ctx.Err()
		case err != nil && wx.IsTimeout(err):
			st = wx.ScanPending
		case err != nil:
			m.logger.Warn("scan status check failed", zap.Error(err))
			st = wx.ScanExpired
		}
		if m.opts.QRCallback != nil {
			m.opts.QRCallback(uuid, st, png)
		}

		switch st {
		case wx.ScanConfirmed:
			return true, nil
		case wx.ScanScanned:
			if !scanned {
				m.logger.Info("please press confirm on your phone")
				scanned = true
				if err := sleep(ctx, m.opts.ScannedWait); err != nil {
					return false, err
				}
			}
			if err := sleep(ctx, m.opts.PollInterval); err != nil {
				return false, err
			}
		case wx.ScanPending:
		case wx.ScanExpired:
			return false, nil
		default:
			m.logger.Error("unexpected scan status", zap.String("status", string(st)))
			return false, fmt.Errorf("%w: scan status %q", ErrLoginAborted, st)
		}
	}
}

// Bootstrap loads the account, its contacts and the initial sync cursor
// into the store, then marks the session Bootstrapped.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.logger.Info("loading contacts, this may take a little while")
	boot, err := m.client.Init(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	self := boot.Self.Contact()
	self.Kind = contact.KindFriend
	m.store.SetSelf(self)

	groups, others := wx.SplitContacts(boot.Contacts)
	m.store.MergeGroups(groups, contact.PartialMembers)
	m.store.MergeFriends(others)

	if res := m.client.StatusNotify(ctx); !res.OK() {
		m.logger.Warn("status notify failed", zap.Int("ret", res.Ret), zap.String("err", res.ErrMsg))
	}
	if m.loader != nil {
		if _, _, err := m.loader.FetchAll(ctx); err != nil {
			m.logger.Warn("full contact fetch failed", zap.Error(err))
		}
	}
	if err := m.machine.Transition(status.Bootstrapped); err != nil {
		return err
	}
	friends, broadcasts, chatrooms := m.store.Counts()
	m.logger.Info("login successful",
		zap.String("nick_name", self.NickName),
		zap.Int("friends", friends),
		zap.Int("broadcasts", broadcasts),
		zap.Int("groups", chatrooms),
	)
	m.bus.Emit(bus.KindLoggedIn, self.UserName)
	return nil
}

// Resume marks a restored session as bootstrapped without a new scan.
func (m *Manager) Resume() error {
	m.machine.Reset()
	if err := m.machine.Transition(status.Bootstrapped); err != nil {
		return err
	}
	m.bus.Emit(bus.KindLoggedIn, m.store.SelfUserName())
	return nil
}

// Logout ends the session on the service, clears tokens, cookies and the
// contact store, and moves the machine to LoggedOut.
func (m *Manager) Logout(ctx context.Context) {
	m.client.Logout(ctx)
	m.store.Reset()
	if m.machine.Current() != status.LoggedOut {
		_ = m.machine.Transition(status.LoggedOut)
	}
	m.bus.Emit(bus.KindLoggedOut, nil)
	m.logger.Info("logged out")
}

func (m *Manager) removeQR() {
	if m.opts.QRPath == "" {
		return
	}
	if err := os.Remove(m.opts.QRPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Debug("remove QR image failed", zap.Error(err))
	}
}

// QRCode is the payload of a session.qr_code event.
type QRCode struct {
	UUID    string
	Payload string
	PNG     []byte
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
