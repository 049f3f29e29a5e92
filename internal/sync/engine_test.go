package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/message"
	"github.com/matheus3301/wxweb/internal/store"
	"github.com/matheus3301/wxweb/internal/wx"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type check struct {
	retcode  string
	selector string
	err      error
}

// fakeClient replays scripted synccheck answers, then blocks until ctx ends.
type fakeClient struct {
	mu      sync.Mutex
	checks  []check
	results []*wx.SyncResult
	syncs   int
}

func (f *fakeClient) Session() wx.Session {
	return wx.Session{SyncKey: wx.SyncKey{Count: 1, List: []wx.KeyVal{{Key: 1, Val: 42}}}}
}

func (f *fakeClient) SyncCheck(ctx context.Context) (string, string, error) {
	f.mu.Lock()
	if len(f.checks) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	c := f.checks[0]
	f.checks = f.checks[1:]
	f.mu.Unlock()
	return c.retcode, c.selector, c.err
}

func (f *fakeClient) Sync(context.Context) (*wx.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	if len(f.results) == 0 {
		return &wx.SyncResult{}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

type fakeSession struct{ logouts atomic.Int32 }

func (s *fakeSession) Logout(context.Context) { s.logouts.Add(1) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type harness struct {
	engine  *Engine
	client  *fakeClient
	store   *contact.Store
	queue   *message.Queue
	session *fakeSession
	reason  chan error
}

func newHarness(t *testing.T, fc *fakeClient, archive Archiver, retries int) *harness {
	t.Helper()
	cs := contact.NewStore()
	cs.SetSelf(contact.Contact{UserName: "@self", NickName: "Me"})
	h := &harness{
		client:  fc,
		store:   cs,
		queue:   message.NewQueue(),
		session: &fakeSession{},
		reason:  make(chan error, 1),
	}
	h.engine = NewEngine(fc, cs, message.NewNormalizer(cs, nil, nil, nil), h.queue, archive, h.session, nil, nil, Options{
		RetryCount:    retries,
		RetryInterval: time.Millisecond,
		OnExit:        func(reason error) { h.reason <- reason },
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	return <-h.reason
}

func TestGroupDeltaAnnouncedOnce(t *testing.T) {
	db := testDB(t)
	fc := &fakeClient{
		checks: []check{{retcode: "0", selector: "2"}, {retcode: "1101"}},
		results: []*wx.SyncResult{{
			Messages: []wx.RawMessage{{MsgID: "m1", FromUserName: "@bob", ToUserName: "@self", MsgType: 1, Content: "hi", CreateTime: 5}},
			Contacts: []wx.RawContact{
				{UserName: "@@g", NickName: "Team", MemberList: []wx.RawMember{{UserName: "@self"}, {UserName: "@bob"}}},
				{UserName: "@@h", NickName: "Other"},
				{UserName: "@bob", NickName: "Bob"},
			},
		}},
	}
	h := newHarness(t, fc, db, 5)
	h.engine.Start(context.Background())
	reason := h.wait(t)
	assert.ErrorContains(t, reason, "1101")
	assert.EqualValues(t, 1, h.session.logouts.Load())

	require.Equal(t, 2, h.queue.Len())
	first, _ := h.queue.Get(context.Background(), 0)
	assert.Equal(t, message.Text, first.Type)
	assert.Equal(t, "hi", first.Text)
	second, _ := h.queue.Get(context.Background(), 0)
	assert.Equal(t, message.System, second.Type)
	assert.Equal(t, message.InfoChatrooms, second.SystemInfo)
	assert.Equal(t, []string{"@@g", "@@h"}, second.UserNames)

	g, ok := h.store.Group("@@g")
	require.True(t, ok)
	assert.Len(t, g.Members, 2)
	_, ok = h.store.Friend("@bob")
	assert.True(t, ok)

	msgs, err := db.ListMessages("@bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.EqualValues(t, 5000, msgs[0].Timestamp)

	key, err := db.Checkpoint(store.CheckpointSyncKey)
	require.NoError(t, err)
	assert.Equal(t, "1_42", key)
}

func TestSelectorZeroSkipsSync(t *testing.T) {
	fc := &fakeClient{checks: []check{{retcode: "0", selector: "0"}, {retcode: "0", selector: "0"}, {retcode: "1100"}}}
	h := newHarness(t, fc, nil, 5)
	h.engine.Start(context.Background())
	h.wait(t)
	assert.Zero(t, fc.syncs)
	assert.Zero(t, h.queue.Len())
}

func TestTimeoutsAreNotCounted(t *testing.T) {
	fc := &fakeClient{checks: []check{
		{err: timeoutErr{}},
		{err: fmt.Errorf("poll: %w", context.DeadlineExceeded)},
		{err: timeoutErr{}},
		{retcode: "1101"},
	}}
	h := newHarness(t, fc, nil, 0)
	h.engine.Start(context.Background())
	reason := h.wait(t)
	assert.ErrorContains(t, reason, "retcode 1101")
}

func TestRetryBudgetExhausted(t *testing.T) {
	boom := errors.New("connection reset")
	fc := &fakeClient{checks: []check{{err: boom}, {err: boom}, {err: boom}, {retcode: "0", selector: "0"}}}
	h := newHarness(t, fc, nil, 2)
	h.engine.Start(context.Background())
	reason := h.wait(t)
	assert.ErrorIs(t, reason, boom)
	assert.ErrorContains(t, reason, "retry budget")
	assert.EqualValues(t, 1, h.session.logouts.Load())
	assert.Len(t, fc.checks, 1)
}

func TestUnparseableBodyStops(t *testing.T) {
	fc := &fakeClient{checks: []check{{err: wx.ErrSyncCheckFailed}}}
	h := newHarness(t, fc, nil, 5)
	h.engine.Start(context.Background())
	assert.ErrorIs(t, h.wait(t), wx.ErrSyncCheckFailed)
	assert.EqualValues(t, 1, h.session.logouts.Load())
}

func TestStopKeepsSession(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	fc := &fakeClient{}
	h := newHarness(t, fc, nil, 5)
	h.engine.bus = b
	h.engine.Start(context.Background())
	h.engine.Start(context.Background())
	h.engine.Stop()

	assert.ErrorIs(t, h.wait(t), ErrStopped)
	assert.Zero(t, h.session.logouts.Load())
	evt := <-events
	assert.Equal(t, bus.KindSyncStopped, evt.Kind)
}

func TestArchiveItemSkipsSystem(t *testing.T) {
	_, ok := archiveItem(message.SystemEnvelope(contact.Change{Info: message.InfoChatrooms}, "@self"), "@self")
	assert.False(t, ok)

	env := &message.Envelope{
		RawMessage:     wx.RawMessage{MsgID: "9", FromUserName: "@@g", CreateTime: 1},
		User:           contact.Contact{Kind: contact.KindGroup, UserName: "@@g", NickName: "Team"},
		Type:           message.Text,
		Text:           "@Me hello",
		IsGroup:        true,
		ActualUserName: "@bob",
		ActualNickName: "Bob",
		IsAt:           true,
	}
	it, ok := archiveItem(env, "@self")
	require.True(t, ok)
	assert.Equal(t, "@@g", it.Message.ChatID)
	assert.Equal(t, "@bob", it.Message.SenderID)
	assert.Equal(t, "Bob", it.Message.SenderName)
	assert.True(t, it.Message.IsAt)
	assert.True(t, it.IsGroup)
	assert.Equal(t, "Team", it.ChatName)
}

// recordingArchive keeps what the engine persists and fails writes to the
// keys listed in failKeys.
type recordingArchive struct {
	mu       sync.Mutex
	items    []store.ArchiveItem
	keys     []string
	failKeys map[string]bool
}

func (a *recordingArchive) Archive(items []store.ArchiveItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
	return nil
}

func (a *recordingArchive) SetCheckpoint(key, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	if a.failKeys[key] {
		return errors.New("disk full")
	}
	return nil
}

func TestGroupDeltaOnlyYieldsOneSystemEnvelope(t *testing.T) {
	archive := &recordingArchive{}
	h := newHarness(t, &fakeClient{}, archive, 5)

	h.engine.Deliver(context.Background(), &wx.SyncResult{
		Contacts: []wx.RawContact{{UserName: "@@g", NickName: "Team"}},
	})

	require.Equal(t, 1, h.queue.Len())
	env, ok := h.queue.Get(context.Background(), 0)
	require.True(t, ok)
	assert.Equal(t, message.System, env.Type)
	assert.Equal(t, message.InfoChatrooms, env.SystemInfo)
	assert.Equal(t, []string{"@@g"}, env.UserNames)
	assert.Zero(t, h.queue.Len())
	assert.Empty(t, archive.items)

	_, ok = h.store.Group("@@g")
	assert.True(t, ok)
}

func TestCheckpointFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	archive := &recordingArchive{failKeys: map[string]bool{store.CheckpointLastSync: true}}
	h := newHarness(t, &fakeClient{}, archive, 5)
	h.engine.logger = zap.New(core)

	h.engine.Deliver(context.Background(), &wx.SyncResult{
		Messages: []wx.RawMessage{{MsgID: "m1", FromUserName: "@bob", ToUserName: "@self", MsgType: 1, Content: "hi", CreateTime: 5}},
	})

	assert.Equal(t, []string{store.CheckpointSyncKey, store.CheckpointLastSync}, archive.keys)
	assert.Len(t, archive.items, 1)
	entries := logs.FilterMessage("save last sync checkpoint failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Zero(t, logs.FilterMessage("save sync checkpoint failed").Len())
}
