package hotreload

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/contact"
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

type fakeClient struct {
	session  wx.Session
	cookies  map[string]string
	result   *wx.SyncResult
	syncErr  error
	logouts  int
	syncKeys []string
}

func (f *fakeClient) Session() wx.Session             { return f.session }
func (f *fakeClient) SetSession(s wx.Session)         { f.session = s }
func (f *fakeClient) Cookies() map[string]string      { return f.cookies }
func (f *fakeClient) SetCookies(c map[string]string) { f.cookies = c }

func (f *fakeClient) Sync(context.Context) (*wx.SyncResult, error) {
	f.syncKeys = append(f.syncKeys, f.session.SyncKey.String())
	return f.result, f.syncErr
}

func (f *fakeClient) Logout(context.Context) {
	f.logouts++
	f.session = wx.Session{}
	f.cookies = nil
}

func session() wx.Session {
	return wx.Session{
		BaseURL:          "https://wx.example/cgi-bin/mmwebwx-bin",
		FileURL:          "https://file.wx.example/cgi-bin/mmwebwx-bin",
		SyncURL:          "https://webpush.wx.example/cgi-bin/mmwebwx-bin",
		DeviceID:         "e123456789012345",
		Sid:              "sid",
		Uin:              "100",
		Skey:             "@crypt_skey",
		PassTicket:       "ticket",
		SyncKey:          wx.SyncKey{Count: 2, List: []wx.KeyVal{{Key: 1, Val: 10}, {Key: 2, Val: 20}}},
		SyncCheckKey:     "1_10|2_20",
		LoginTime:        1700000000000,
		InviteStartCount: 40,
		UserName:         "@self",
		NickName:         "Me",
	}
}

func populated() *contact.Store {
	s := contact.NewStore()
	s.SetSelf(contact.Contact{UserName: "@self", NickName: "Me", Uin: 100})
	s.MergeFriends([]contact.Contact{
		{UserName: "@alice", NickName: "Alice", RemarkName: "Al", Sex: 2},
		{UserName: "@news", NickName: "News", VerifyFlag: 8},
	})
	s.MergeGroups([]contact.Contact{{
		UserName:      "@@team",
		NickName:      "Team",
		ChatRoomOwner: "@alice",
		Members: []contact.Member{
			{UserName: "@self", NickName: "Me", DisplayName: "boss"},
			{UserName: "@alice", NickName: "Alice", Uin: 7},
		},
	}}, contact.PartialMembers)
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{
		Version:  Version,
		Session:  session(),
		Cookies:  map[string]string{"wxuin": "100", "wxsid": "sid"},
		Contacts: populated().Snapshot(),
		SavedAt:  1700000000,
	}
	data, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	again, err := Encode(got)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")
}

func TestDumpLoad(t *testing.T) {
	db := testDB(t)
	src := populated()
	fc := &fakeClient{session: session(), cookies: map[string]string{"wxuin": "100"}}
	require.NoError(t, New(fc, src, db, "main", nil).Dump())

	dst := contact.NewStore()
	fresh := &fakeClient{result: &wx.SyncResult{}}
	res, err := New(fresh, dst, db, "main", nil).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, session(), fresh.session)
	assert.Equal(t, map[string]string{"wxuin": "100"}, fresh.cookies)
	assert.Equal(t, src.Snapshot(), dst.Snapshot())
	assert.Equal(t, []string{"1_10|2_20"}, fresh.syncKeys, "sync runs with the restored cursor")
}

func TestLoadWithoutSnapshot(t *testing.T) {
	_, err := New(&fakeClient{}, contact.NewStore(), testDB(t), "main", nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLoadVersionMismatch(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.SaveSnapshot("main", "wxweb/0", []byte("old")))
	fc := &fakeClient{}
	_, err := New(fc, contact.NewStore(), db, "main", nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.Empty(t, fc.syncKeys)
}

func TestLoadRejectedRestoresPushCookies(t *testing.T) {
	db := testDB(t)
	saved := map[string]string{
		"webwxuvid":         "uvid",
		"webwx_auth_ticket": "auth",
		"wxuin":             "100",
		"wxloadtime":        "1700000000",
		"wxsid":             "sid",
	}
	require.NoError(t, New(&fakeClient{session: session(), cookies: saved}, populated(), db, "main", nil).Dump())

	for _, tc := range []struct {
		name string
		fc   *fakeClient
	}{
		{"nil result", &fakeClient{}},
		{"error", &fakeClient{syncErr: errors.New("boom")}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dst := contact.NewStore()
			_, err := New(tc.fc, dst, db, "main", nil).Load(context.Background())
			require.ErrorIs(t, err, ErrSessionRejected)
			assert.Equal(t, 1, tc.fc.logouts)
			assert.Empty(t, dst.SelfUserName())
			assert.Equal(t, "100", tc.fc.cookies["wxuin"])
			assert.Equal(t, "100", tc.fc.cookies["last_wxuin"])
			assert.Equal(t, "1700000000_expired", tc.fc.cookies["wxloadtime"])
			assert.Equal(t, "1700000000", tc.fc.cookies["wxpluginkey"])
			assert.NotContains(t, tc.fc.cookies, "wxsid")
		})
	}
}

func TestPushCookiesIncomplete(t *testing.T) {
	assert.Nil(t, pushCookies(map[string]string{"wxuin": "1"}, zap.NewNop()))
}

func TestDiscard(t *testing.T) {
	db := testDB(t)
	m := New(&fakeClient{session: session()}, populated(), db, "main", nil)
	require.NoError(t, m.Dump())
	require.NoError(t, m.Discard())
	_, err := m.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
