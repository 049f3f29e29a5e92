package roster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/wx"
)

type fakeClient struct {
	mu       sync.Mutex
	records  map[string]wx.RawContact
	batches  [][]wx.ContactRequest
	contacts []wx.RawContact
	listErr  error
	delay    time.Duration
	calls    atomic.Int32
	added    []bool
	aliases  map[string]string
	session  wx.Session
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: map[string]wx.RawContact{}, aliases: map[string]string{}}
}

func (f *fakeClient) Session() wx.Session { return f.session }

func (f *fakeClient) GetContact(context.Context) ([]wx.RawContact, error) {
	return f.contacts, f.listErr
}

func (f *fakeClient) BatchGetContact(_ context.Context, reqs []wx.ContactRequest) ([]wx.RawContact, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, reqs)
	var out []wx.RawContact
	for _, r := range reqs {
		if rc, ok := f.records[r.UserName]; ok {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (f *fakeClient) SetAlias(_ context.Context, userName, alias string) wx.Result {
	f.aliases[userName] = alias
	return wx.Result{}
}

func (f *fakeClient) SetPinned(context.Context, string, bool) wx.Result { return wx.Result{} }

func (f *fakeClient) VerifyUser(context.Context, string, string, int, string) wx.Result {
	return wx.Result{}
}

func (f *fakeClient) HeadImage(_ context.Context, userName, chatRoomID string) ([]byte, wx.Result) {
	return []byte(userName + "|" + chatRoomID), wx.Result{}
}

func (f *fakeClient) CreateChatroom(context.Context, []string, string) wx.Result { return wx.Result{} }

func (f *fakeClient) SetChatroomName(context.Context, string, string) wx.Result { return wx.Result{} }

func (f *fakeClient) DeleteMembers(context.Context, string, []string) wx.Result { return wx.Result{} }

func (f *fakeClient) AddMembers(_ context.Context, _ string, _ []string, invite bool) wx.Result {
	f.added = append(f.added, invite)
	return wx.Result{}
}

func newStore() *contact.Store {
	s := contact.NewStore()
	s.SetSelf(contact.Contact{UserName: "@self", NickName: "Me", Uin: 1})
	return s
}

func group(name string, members ...string) wx.RawContact {
	rc := wx.RawContact{UserName: name, NickName: "G", EncryChatRoomID: "enc" + name}
	for _, m := range members {
		rc.MemberList = append(rc.MemberList, wx.RawMember{UserName: m, NickName: m})
	}
	return rc
}

func TestRefreshGroupReplacesMembers(t *testing.T) {
	fc := newFakeClient()
	store := newStore()
	store.MergeGroups([]contact.Contact{{
		Kind:     contact.KindGroup,
		UserName: "@@g",
		Members:  []contact.Member{{UserName: "@a"}, {UserName: "@b"}},
	}}, contact.PartialMembers)
	fc.records["@@g"] = group("@@g", "@b", "@c")

	r := New(fc, store, nil)
	g, ok := r.RefreshGroup(context.Background(), "@@g")
	require.True(t, ok)
	var names []string
	for _, m := range g.Members {
		names = append(names, m.UserName)
	}
	assert.Equal(t, []string{"@b", "@c"}, names)
}

func TestRefreshGroupSharesInflightCall(t *testing.T) {
	fc := newFakeClient()
	fc.delay = 50 * time.Millisecond
	fc.records["@@g"] = group("@@g", "@a")
	r := New(fc, newStore(), nil)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := r.RefreshGroup(context.Background(), "@@g")
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Less(t, int(fc.calls.Load()), 5)
}

func TestUpdateGroupsNotFound(t *testing.T) {
	r := New(newFakeClient(), newStore(), nil)
	_, res := r.UpdateGroups(context.Background(), false, "@@missing")
	assert.Equal(t, wx.RetNotFound, res.Ret)
}

func TestUpdateGroupsDetailedBatches(t *testing.T) {
	fc := newFakeClient()
	var members []string
	for i := range 120 {
		name := "@m" + string(rune('A'+i/26)) + string(rune('a'+i%26))
		members = append(members, name)
		fc.records[name] = wx.RawContact{UserName: name, NickName: "full" + name}
	}
	fc.records["@@big"] = group("@@big", members...)
	store := newStore()
	r := New(fc, store, nil)

	gs, res := r.UpdateGroups(context.Background(), true, "@@big")
	require.True(t, res.OK())
	require.Len(t, gs, 1)
	require.Len(t, gs[0].Members, 120)
	assert.Equal(t, "full"+members[0], gs[0].Members[0].NickName)
	assert.Equal(t, "full"+members[119], gs[0].Members[119].NickName)

	var sizes []int
	for _, b := range fc.batches[1:] {
		sizes = append(sizes, len(b))
		assert.Equal(t, "enc@@big", b[0].ChatRoomID)
	}
	assert.ElementsMatch(t, []int{50, 50, 20}, sizes)
}

func TestFetchAllSplitsGroups(t *testing.T) {
	fc := newFakeClient()
	fc.contacts = []wx.RawContact{
		{UserName: "@alice", NickName: "Alice", Sex: 2},
		group("@@g", "@alice"),
		{UserName: "@news", NickName: "News", VerifyFlag: 24},
		{UserName: "@@odd", NickName: "Person", Sex: 1},
	}
	store := newStore()
	r := New(fc, store, nil)

	groups, others, err := r.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"@@g"}, groups.UserNames)
	assert.Equal(t, []string{"@alice", "@news", "@@odd"}, others.UserNames)

	_, ok := store.Broadcast("@news")
	assert.True(t, ok)
	_, ok = store.Friend("@@odd")
	assert.True(t, ok)
}

func TestFetchAllFailureRefreshesKnownGroups(t *testing.T) {
	fc := newFakeClient()
	fc.listErr = errors.New("boom")
	fc.records["@@g"] = group("@@g")
	store := newStore()
	store.MergeGroups([]contact.Contact{{Kind: contact.KindGroup, UserName: "@@g"}}, contact.PartialMembers)
	r := New(fc, store, nil)

	_, _, err := r.FetchAll(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, fc.calls.Load())
}

func TestApplyUINs(t *testing.T) {
	fc := newFakeClient()
	fc.records["@new"] = wx.RawContact{UserName: "@new", NickName: "New"}
	store := newStore()
	store.MergeFriends([]contact.Contact{
		{UserName: "@known", NickName: "Known"},
		{UserName: "@set", NickName: "Set", Uin: 9},
	})
	r := New(fc, store, nil)

	content := "<msg><username>11,12,13,14</username></msg>"
	changed := r.ApplyUINs(context.Background(), content, "@known,@set,plain,@new")
	assert.Equal(t, []string{"@known", "@new"}, changed)

	known, _ := store.Friend("@known")
	assert.EqualValues(t, 11, known.Uin)
	set, _ := store.Friend("@set")
	assert.EqualValues(t, 9, set.Uin)
	fresh, ok := store.Friend("@new")
	require.True(t, ok)
	assert.EqualValues(t, 14, fresh.Uin)
	assert.Equal(t, "New", fresh.NickName)

	friends, _, _ := store.Counts()
	assert.Equal(t, 4, friends)
}

func TestApplyUINsLengthMismatch(t *testing.T) {
	r := New(newFakeClient(), newStore(), nil)
	changed := r.ApplyUINs(context.Background(), "<username>1,2</username>", "@a")
	assert.Empty(t, changed)
}

func TestApplyUINsUnknownGroupPlaceholder(t *testing.T) {
	store := newStore()
	r := New(newFakeClient(), store, nil)
	changed := r.ApplyUINs(context.Background(), "<username>7</username>", "@@room")
	assert.Equal(t, []string{"@@room"}, changed)
	g, ok := store.Group("@@room")
	require.True(t, ok)
	assert.EqualValues(t, 7, g.Uin)
	require.NotNil(t, g.Self)
	assert.Equal(t, "@self", g.Self.UserName)
}

func TestSetAliasRequiresFriend(t *testing.T) {
	fc := newFakeClient()
	store := newStore()
	store.MergeFriends([]contact.Contact{{UserName: "@a", NickName: "A"}})
	r := New(fc, store, nil)

	assert.Equal(t, wx.RetNotFound, r.SetAlias(context.Background(), "@zz", "x").Ret)
	require.True(t, r.SetAlias(context.Background(), "@a", "Buddy").OK())
	a, _ := store.Friend("@a")
	assert.Equal(t, "Buddy", a.RemarkName)
	assert.Equal(t, "Buddy", fc.aliases["@a"])
}

func TestAddMembersSwitchesToInvite(t *testing.T) {
	fc := newFakeClient()
	fc.session.InviteStartCount = 2
	store := newStore()
	store.MergeGroups([]contact.Contact{{
		Kind:     contact.KindGroup,
		UserName: "@@small",
		Members:  []contact.Member{{UserName: "@a"}},
	}, {
		Kind:     contact.KindGroup,
		UserName: "@@large",
		Members:  []contact.Member{{UserName: "@a"}, {UserName: "@b"}, {UserName: "@c"}},
	}}, contact.PartialMembers)
	r := New(fc, store, nil)

	r.AddMembers(context.Background(), "@@small", []string{"@x"}, false)
	r.AddMembers(context.Background(), "@@large", []string{"@x"}, false)
	assert.Equal(t, []bool{false, true}, fc.added)
}

func TestHeadImageRouting(t *testing.T) {
	store := newStore()
	store.MergeGroups([]contact.Contact{{Kind: contact.KindGroup, UserName: "@@g", EncryChatRoomID: "enc"}}, contact.PartialMembers)
	r := New(newFakeClient(), store, nil)
	ctx := context.Background()

	b, res := r.HeadImage(ctx, "", "")
	require.True(t, res.OK())
	assert.Equal(t, "@self|", string(b))

	_, res = r.HeadImage(ctx, "@stranger", "")
	assert.Equal(t, wx.RetNotFound, res.Ret)

	b, _ = r.HeadImage(ctx, "", "@@g")
	assert.Equal(t, "@@g|", string(b))

	b, _ = r.HeadImage(ctx, "@m", "@@g")
	assert.Equal(t, "@m|enc", string(b))
}
