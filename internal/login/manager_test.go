package login

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/status"
	"github.com/matheus3301/wxweb/internal/wx"
)

type fakeClient struct {
	mu        sync.Mutex
	uuids     []error
	statuses  []wx.ScanStatus
	checkErr  error
	pushUUID  string
	uuidCalls int
	checks    []string
	notified  int
	loggedOut int
	init      *wx.InitResult
}

func (f *fakeClient) Session() wx.Session { return wx.Session{} }

func (f *fakeClient) QRUUID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uuidCalls++
	if len(f.uuids) > 0 {
		err := f.uuids[0]
		f.uuids = f.uuids[1:]
		if err != nil {
			return "", err
		}
	}
	return "uuid-" + string(rune('0'+f.uuidCalls)), nil
}

func (f *fakeClient) QRPayload(uuid string) string { return "https://login.example/l/" + uuid }

func (f *fakeClient) PushLogin(context.Context) (string, bool) {
	return f.pushUUID, f.pushUUID != ""
}

func (f *fakeClient) CheckLogin(_ context.Context, uuid string) (wx.ScanStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, uuid)
	if f.checkErr != nil {
		return "", f.checkErr
	}
	if len(f.statuses) == 0 {
		return wx.ScanConfirmed, nil
	}
	st := f.statuses[0]
	f.statuses = f.statuses[1:]
	return st, nil
}

func (f *fakeClient) Init(context.Context) (*wx.InitResult, error) {
	if f.init != nil {
		return f.init, nil
	}
	return &wx.InitResult{
		Self: wx.RawContact{UserName: "@self", NickName: "Me", Uin: 1},
		Contacts: []wx.RawContact{
			{UserName: "@@g", NickName: "Group"},
			{UserName: "@alice", NickName: "Alice", Sex: 2},
		},
	}, nil
}

func (f *fakeClient) StatusNotify(context.Context) wx.Result {
	f.notified++
	return wx.Result{}
}

func (f *fakeClient) Logout(context.Context) { f.loggedOut++ }

type fakeLoader struct{ calls int }

func (l *fakeLoader) FetchAll(context.Context) (contact.Change, contact.Change, error) {
	l.calls++
	return contact.Change{}, contact.Change{}, nil
}

func fastOptions() Options {
	return Options{
		RetryInterval: time.Millisecond,
		ScannedWait:   time.Millisecond,
		PollInterval:  time.Millisecond,
	}
}

func newManager(fc *fakeClient, opts Options) (*Manager, *contact.Store, *fakeLoader) {
	store := contact.NewStore()
	loader := &fakeLoader{}
	m := NewManager(fc, store, loader, status.NewMachine(nil), nil, nil, opts)
	return m, store, loader
}

func TestLoginQRFlow(t *testing.T) {
	fc := &fakeClient{
		uuids:    []error{errors.New("no uuid"), nil},
		statuses: []wx.ScanStatus{wx.ScanPending, wx.ScanScanned, wx.ScanScanned, wx.ScanConfirmed},
	}
	opts := fastOptions()
	opts.QRPath = filepath.Join(t.TempDir(), "qr.png")
	var seen []wx.ScanStatus
	var gotPNG []byte
	opts.QRCallback = func(uuid string, st wx.ScanStatus, png []byte) {
		seen = append(seen, st)
		gotPNG = png
	}
	loggedIn := false
	opts.OnLogin = func() { loggedIn = true }

	m, store, loader := newManager(fc, opts)
	require.NoError(t, m.Login(context.Background()))

	assert.Equal(t, 2, fc.uuidCalls)
	assert.Equal(t, []wx.ScanStatus{wx.ScanPending, wx.ScanScanned, wx.ScanScanned, wx.ScanConfirmed}, seen)
	assert.NotEmpty(t, gotPNG)
	assert.True(t, loggedIn)
	assert.Equal(t, status.Bootstrapped, m.Machine().Current())
	assert.Equal(t, 1, fc.notified)
	assert.Equal(t, 1, loader.calls)

	assert.Equal(t, "@self", store.SelfUserName())
	_, ok := store.Group("@@g")
	assert.True(t, ok)
	_, ok = store.Friend("@alice")
	assert.True(t, ok)

	_, err := os.Stat(opts.QRPath)
	assert.True(t, os.IsNotExist(err), "QR image should be removed after login")
}

func TestLoginExpiredReloadsQR(t *testing.T) {
	fc := &fakeClient{statuses: []wx.ScanStatus{wx.ScanExpired, wx.ScanConfirmed}}
	m, _, _ := newManager(fc, fastOptions())
	require.NoError(t, m.Login(context.Background()))
	assert.Equal(t, 2, fc.uuidCalls)
	assert.Equal(t, []string{"uuid-1", "uuid-2"}, fc.checks)
}

func TestLoginUnknownStatusAborts(t *testing.T) {
	fc := &fakeClient{statuses: []wx.ScanStatus{"500"}}
	m, _, _ := newManager(fc, fastOptions())
	err := m.Login(context.Background())
	require.ErrorIs(t, err, ErrLoginAborted)
	assert.Equal(t, status.Idle, m.Machine().Current())
}

func TestLoginAccountRestricted(t *testing.T) {
	fc := &fakeClient{checkErr: wx.ErrAccountRestricted}
	m, _, _ := newManager(fc, fastOptions())
	err := m.Login(context.Background())
	require.ErrorIs(t, err, ErrAccountRestricted)
	assert.Len(t, fc.checks, 1)
}

func TestLoginPushSkipsQR(t *testing.T) {
	fc := &fakeClient{pushUUID: "pushed"}
	opts := fastOptions()
	opts.PushLogin = true
	var pngs [][]byte
	opts.QRCallback = func(_ string, _ wx.ScanStatus, png []byte) { pngs = append(pngs, png) }

	m, _, _ := newManager(fc, opts)
	require.NoError(t, m.Login(context.Background()))
	assert.Zero(t, fc.uuidCalls)
	assert.Equal(t, []string{"pushed"}, fc.checks)
	require.Len(t, pngs, 1)
	assert.Empty(t, pngs[0])
}

func TestLoginTwiceFails(t *testing.T) {
	m, _, _ := newManager(&fakeClient{}, fastOptions())
	require.NoError(t, m.Login(context.Background()))
	assert.ErrorIs(t, m.Login(context.Background()), ErrAlreadyLoggedIn)
}

func TestLoginHonorsContext(t *testing.T) {
	fc := &fakeClient{uuids: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	opts := fastOptions()
	opts.RetryInterval = time.Hour
	m, _, _ := newManager(fc, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Login(ctx), context.DeadlineExceeded)
}

func TestLogoutClearsStore(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("session.logged_", 4)
	defer unsub()

	fc := &fakeClient{}
	store := contact.NewStore()
	m := NewManager(fc, store, nil, status.NewMachine(nil), b, nil, fastOptions())
	require.NoError(t, m.Login(context.Background()))

	m.Logout(context.Background())
	assert.Equal(t, 1, fc.loggedOut)
	assert.Equal(t, status.LoggedOut, m.Machine().Current())
	friends, _, groups := store.Counts()
	assert.Zero(t, friends+groups)

	assert.Equal(t, bus.KindLoggedIn, (<-events).Kind)
	assert.Equal(t, bus.KindLoggedOut, (<-events).Kind)
}

func TestResume(t *testing.T) {
	m, _, _ := newManager(&fakeClient{}, fastOptions())
	require.NoError(t, m.Resume())
	assert.Equal(t, status.Bootstrapped, m.Machine().Current())
}
