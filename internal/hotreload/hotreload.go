// Package hotreload saves a logged-in session and restores it on the next
// start without a new scan.
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/wx"
)

// Version tags every record. Records with another tag are ignored.
const Version = "wxweb/1"

var (
	ErrNoSnapshot      = errors.New("no saved session")
	ErrVersionMismatch = errors.New("saved session has another version")
	// ErrSessionRejected means the restored tokens no longer sync. The push
	// login cookies have been restored by the time it is returned.
	ErrSessionRejected = errors.New("saved session rejected by server")
)

// Record is everything needed to resume a session.
type Record struct {
	Version  string            `cbor:"1,keyasint"`
	Session  wx.Session        `cbor:"2,keyasint"`
	Cookies  map[string]string `cbor:"3,keyasint,omitempty"`
	Contacts contact.Snapshot  `cbor:"4,keyasint"`
	SavedAt  int64             `cbor:"5,keyasint"`
}

// Snapshots stores encoded records by session name. *store.DB satisfies it.
type Snapshots interface {
	SaveSnapshot(name, version string, data []byte) error
	LoadSnapshot(name string) (version string, data []byte, ok bool, err error)
	DeleteSnapshot(name string) error
}

// Client is the part of *wx.Client whose state is saved.
type Client interface {
	Session() wx.Session
	SetSession(s wx.Session)
	Cookies() map[string]string
	SetCookies(cookies map[string]string)
	Sync(ctx context.Context) (*wx.SyncResult, error)
	Logout(ctx context.Context)
}

// Manager dumps and loads the session named name.
type Manager struct {
	client   Client
	contacts *contact.Store
	snaps    Snapshots
	name     string
	logger   *zap.Logger
}

// New creates a hot-reload manager.
func New(client Client, contacts *contact.Store, snaps Snapshots, name string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, contacts: contacts, snaps: snaps, name: name, logger: logger}
}

// Dump saves the current session, cookies and contacts.
func (m *Manager) Dump() error {
	rec := &Record{
		Version:  Version,
		Session:  m.client.Session(),
		Cookies:  m.client.Cookies(),
		Contacts: m.contacts.Snapshot(),
		SavedAt:  time.Now().Unix(),
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := m.snaps.SaveSnapshot(m.name, Version, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	m.logger.Debug("session dumped for hot reload", zap.Int("bytes", len(data)))
	return nil
}

// Load restores the saved session and checks it with one sync. The result
// of that sync is returned so its messages and contacts can be delivered.
func (m *Manager) Load(ctx context.Context) (*wx.SyncResult, error) {
	version, data, ok, err := m.snaps.LoadSnapshot(m.name)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil, ErrNoSnapshot
	}
	if version != Version {
		m.logger.Info("saved session ignored", zap.String("version", version))
		return nil, fmt.Errorf("%w: %s", ErrVersionMismatch, version)
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("%w: %s", ErrVersionMismatch, rec.Version)
	}

	m.client.SetSession(rec.Session)
	m.client.SetCookies(rec.Cookies)
	m.contacts.Restore(rec.Contacts)

	res, err := m.client.Sync(ctx)
	if err != nil || res == nil {
		m.logger.Info("server refused saved session", zap.Error(err))
		m.client.Logout(ctx)
		m.contacts.Reset()
		m.client.SetCookies(pushCookies(rec.Cookies, m.logger))
		return nil, ErrSessionRejected
	}
	m.logger.Info("session restored", zap.String("user", rec.Session.NickName))
	return res, nil
}

// Discard removes the saved session.
func (m *Manager) Discard() error {
	return m.snaps.DeleteSnapshot(m.name)
}

// pushCookies derives the cookie set a push login needs from a saved jar.
// It returns nil when the jar lacks any required cookie.
func pushCookies(saved map[string]string, logger *zap.Logger) map[string]string {
	for _, k := range []string{"webwxuvid", "webwx_auth_ticket", "wxuin", "wxloadtime"} {
		if saved[k] == "" {
			logger.Info("saved cookies incomplete, push login unavailable", zap.String("missing", k))
			return nil
		}
	}
	return map[string]string{
		"webwxuvid":          saved["webwxuvid"],
		"webwx_auth_ticket":  saved["webwx_auth_ticket"],
		"login_frequency":    "2",
		"last_wxuin":         saved["wxuin"],
		"wxloadtime":         saved["wxloadtime"] + "_expired",
		"wxpluginkey":        saved["wxloadtime"],
		"wxuin":              saved["wxuin"],
		"mm_lang":            "zh_CN",
		"MM_WX_NOTIFY_STATE": "1",
		"MM_WX_SOUND_STATE":  "1",
	}
}
