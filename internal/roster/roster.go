package roster

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/wx"
)

// memberBatch is the largest member list the batch endpoint accepts.
const memberBatch = 50

// Client is the subset of *wx.Client the roster calls.
type Client interface {
	Session() wx.Session
	GetContact(ctx context.Context) ([]wx.RawContact, error)
	BatchGetContact(ctx context.Context, reqs []wx.ContactRequest) ([]wx.RawContact, error)
	SetAlias(ctx context.Context, userName, alias string) wx.Result
	SetPinned(ctx context.Context, userName string, pinned bool) wx.Result
	VerifyUser(ctx context.Context, userName, ticket string, opcode int, content string) wx.Result
	HeadImage(ctx context.Context, userName, chatRoomID string) ([]byte, wx.Result)
	CreateChatroom(ctx context.Context, members []string, topic string) wx.Result
	SetChatroomName(ctx context.Context, chatRoom, name string) wx.Result
	DeleteMembers(ctx context.Context, chatRoom string, members []string) wx.Result
	AddMembers(ctx context.Context, chatRoom string, members []string, invite bool) wx.Result
}

// Roster runs contact operations that need the network and merges their
// results into the store. The store lock is never held across a call.
type Roster struct {
	client Client
	store  *contact.Store
	logger *zap.Logger
	flight singleflight.Group
}

// New creates a roster.
func New(client Client, store *contact.Store, logger *zap.Logger) *Roster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roster{client: client, store: store, logger: logger}
}

var errNoContact = errors.New("no contact found")

func (r *Roster) fetch(ctx context.Context, userNames []string, detailed bool) ([]contact.Contact, wx.Result) {
	reqs := make([]wx.ContactRequest, 0, len(userNames))
	for _, u := range userNames {
		reqs = append(reqs, wx.ContactRequest{UserName: u})
	}
	raws, err := r.client.BatchGetContact(ctx, reqs)
	if err != nil {
		return nil, wx.Result{Ret: wx.RetRequestFailed, ErrMsg: err.Error()}
	}
	if len(raws) == 0 {
		return nil, wx.Result{Ret: wx.RetNotFound, ErrMsg: errNoContact.Error()}
	}
	records := make([]contact.Contact, len(raws))
	for i, raw := range raws {
		records[i] = raw.Contact()
	}
	if detailed {
		if err := r.detailMembers(ctx, records); err != nil {
			return nil, wx.Result{Ret: wx.RetRequestFailed, ErrMsg: err.Error()}
		}
	}
	return records, wx.Result{}
}

// detailMembers replaces each group's member list with full member records,
// fetched in batches scoped to the group.
func (r *Roster) detailMembers(ctx context.Context, groups []contact.Contact) error {
	for gi := range groups {
		g := &groups[gi]
		if !g.HasMembers() || len(g.Members) == 0 {
			continue
		}
		batches := make([][]contact.Member, (len(g.Members)+memberBatch-1)/memberBatch)
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(4)
		for bi := range batches {
			lo := bi * memberBatch
			hi := min(lo+memberBatch, len(g.Members))
			reqs := make([]wx.ContactRequest, 0, hi-lo)
			for _, m := range g.Members[lo:hi] {
				reqs = append(reqs, wx.ContactRequest{UserName: m.UserName, ChatRoomID: g.EncryChatRoomID})
			}
			eg.Go(func() error {
				raws, err := r.client.BatchGetContact(egctx, reqs)
				if err != nil {
					return err
				}
				members := make([]contact.Member, 0, len(raws))
				for _, raw := range raws {
					members = append(members, raw.Contact().AsMember())
				}
				batches[bi] = members
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		var all []contact.Member
		for _, b := range batches {
			all = append(all, b...)
		}
		g.Members = all
	}
	return nil
}

// UpdateGroups refetches groups and replaces their member lists with the
// server's. With detailed set, members carry their full records.
func (r *Roster) UpdateGroups(ctx context.Context, detailed bool, userNames ...string) ([]contact.Contact, wx.Result) {
	records, res := r.fetch(ctx, userNames, detailed)
	if !res.OK() {
		return nil, res
	}
	ch := r.store.MergeGroups(records, contact.FullMembers)
	return r.collect(ch, r.store.Group), res
}

// UpdateFriends refetches friend or broadcast records.
func (r *Roster) UpdateFriends(ctx context.Context, userNames ...string) ([]contact.Contact, wx.Result) {
	records, res := r.fetch(ctx, userNames, false)
	if !res.OK() {
		return nil, res
	}
	for i := range records {
		if records[i].Kind == contact.KindGroup {
			records[i].Kind = contact.KindFriend
		}
	}
	ch := r.store.MergeFriends(records)
	return r.collect(ch, r.store.Lookup), res
}

func (r *Roster) collect(ch contact.Change, get func(string) (contact.Contact, bool)) []contact.Contact {
	out := make([]contact.Contact, 0, len(ch.UserNames))
	for _, u := range ch.UserNames {
		if c, ok := get(u); ok {
			out = append(out, c)
		}
	}
	return out
}

// RefreshGroup refetches one group. Concurrent refreshes of the same group
// share one request.
func (r *Roster) RefreshGroup(ctx context.Context, userName string) (contact.Contact, bool) {
	_, _, _ = r.flight.Do("group:"+userName, func() (any, error) {
		_, res := r.UpdateGroups(ctx, false, userName)
		if !res.OK() {
			r.logger.Warn("group refresh failed",
				zap.String("group", userName),
				zap.Int("ret", res.Ret),
				zap.String("err", res.ErrMsg),
			)
		}
		return nil, nil
	})
	return r.store.Group(userName)
}

// FetchAll loads the whole paged contact list and merges it. When the list
// cannot be fetched, known groups are refreshed one by one instead.
func (r *Roster) FetchAll(ctx context.Context) (groups, others contact.Change, err error) {
	raws, err := r.client.GetContact(ctx)
	if err != nil {
		r.logger.Warn("contact list fetch failed, refreshing known groups", zap.Error(err))
		for _, g := range r.store.Groups() {
			if _, res := r.UpdateGroups(ctx, true, g.UserName); !res.OK() {
				r.logger.Debug("group refresh failed", zap.String("group", g.UserName), zap.Int("ret", res.Ret))
			}
		}
		return groups, others, err
	}
	gs, fs := wx.SplitContacts(raws)
	if len(gs) > 0 {
		groups = r.store.MergeGroups(gs, contact.PartialMembers)
	}
	if len(fs) > 0 {
		others = r.store.MergeFriends(fs)
	}
	r.logger.Info("contact list loaded",
		zap.Int("groups", len(gs)),
		zap.Int("others", len(fs)),
	)
	return groups, others, nil
}

// ApplyUINs records the numeric ids announced by a status-notify message.
// Contacts the store does not know yet are fetched first. It returns the
// identifiers whose uin was newly recorded.
func (r *Roster) ApplyUINs(ctx context.Context, content, statusNotifyUserName string) []string {
	uins := wx.ParseUINList(content)
	if len(uins) == 0 {
		r.logger.Debug("no uins in status notify")
		return nil
	}
	names := strings.Split(statusNotifyUserName, ",")
	if len(uins) != len(names) {
		r.logger.Debug("uin and user name counts differ",
			zap.Int("uins", len(uins)),
			zap.Int("names", len(names)),
		)
		return nil
	}

	var changed []string
	for i, name := range names {
		if !strings.Contains(name, "@") {
			continue
		}
		uin, err := strconv.ParseInt(uins[i], 10, 64)
		if err != nil {
			continue
		}
		found, updated := r.store.ApplyUIN(name, uin)
		if found {
			if updated {
				changed = append(changed, name)
			}
			continue
		}
		r.addByType(ctx, name, uin)
		changed = append(changed, name)
	}
	return changed
}

// addByType fetches an unknown contact and makes sure a record carrying uin
// exists afterwards. The merge is idempotent, so a record inserted
// concurrently is overwritten rather than duplicated.
func (r *Roster) addByType(ctx context.Context, userName string, uin int64) {
	if contact.IsGroupName(userName) {
		r.UpdateGroups(ctx, false, userName)
		if _, ok := r.store.Group(userName); !ok {
			r.store.MergeGroups([]contact.Contact{{Kind: contact.KindGroup, UserName: userName, Uin: uin}}, contact.PartialMembers)
		}
	} else {
		r.UpdateFriends(ctx, userName)
		if _, ok := r.store.Lookup(userName); !ok {
			r.store.MergeFriends([]contact.Contact{{Kind: contact.KindFriend, UserName: userName, Uin: uin}})
		}
	}
	r.store.ApplyUIN(userName, uin)
	r.logger.Debug("uin fetched", zap.String("user", userName), zap.Int64("uin", uin))
}

// SetAlias sets a friend's remark name and mirrors it locally on success.
func (r *Roster) SetAlias(ctx context.Context, userName, alias string) wx.Result {
	if _, ok := r.store.Friend(userName); !ok {
		return wx.Result{Ret: wx.RetNotFound, ErrMsg: "no friend found"}
	}
	res := r.client.SetAlias(ctx, userName, alias)
	if res.OK() {
		r.store.SetRemarkName(userName, alias)
	}
	return res
}

// SetPinned pins or unpins a conversation.
func (r *Roster) SetPinned(ctx context.Context, userName string, pinned bool) wx.Result {
	return r.client.SetPinned(ctx, userName, pinned)
}

// AcceptFriend accepts a friend request, refreshing the new friend's record
// when autoUpdate is set.
func (r *Roster) AcceptFriend(ctx context.Context, userName, ticket string, autoUpdate bool) wx.Result {
	res := r.client.VerifyUser(ctx, userName, ticket, wx.VerifyAccept, "")
	if autoUpdate {
		r.UpdateFriends(ctx, userName)
	}
	return res
}

// HeadImage downloads a head image. With chatRoom set and userName empty it
// returns the group's image; with both set it returns a member's.
func (r *Roster) HeadImage(ctx context.Context, userName, chatRoom string) ([]byte, wx.Result) {
	if chatRoom == "" {
		if userName == "" {
			userName = r.store.SelfUserName()
		}
		if _, ok := r.store.Friend(userName); !ok {
			return nil, wx.Result{Ret: wx.RetNotFound, ErrMsg: "no friend found"}
		}
		return r.client.HeadImage(ctx, userName, "")
	}
	if userName == "" {
		return r.client.HeadImage(ctx, chatRoom, "")
	}
	g, ok := r.store.Group(chatRoom)
	if !ok {
		return nil, wx.Result{Ret: wx.RetNotFound, ErrMsg: "no chatroom found"}
	}
	id := g.EncryChatRoomID
	if id == "" {
		id = g.UserName
	}
	return r.client.HeadImage(ctx, userName, id)
}

// CreateChatroom creates a group.
func (r *Roster) CreateChatroom(ctx context.Context, members []string, topic string) wx.Result {
	return r.client.CreateChatroom(ctx, members, topic)
}

// SetChatroomName renames a group.
func (r *Roster) SetChatroomName(ctx context.Context, chatRoom, name string) wx.Result {
	return r.client.SetChatroomName(ctx, chatRoom, name)
}

// DeleteMembers removes members from a group.
func (r *Roster) DeleteMembers(ctx context.Context, chatRoom string, members []string) wx.Result {
	return r.client.DeleteMembers(ctx, chatRoom, members)
}

// AddMembers adds members to a group. Invitations are used when asked for or
// when the group already has more members than the session allows adding
// directly.
func (r *Roster) AddMembers(ctx context.Context, chatRoom string, members []string, invite bool) wx.Result {
	g, ok := r.store.Group(chatRoom)
	if !ok {
		gs, res := r.UpdateGroups(ctx, false, chatRoom)
		if !res.OK() {
			return res
		}
		if len(gs) > 0 {
			g = gs[0]
		}
	}
	if !invite && len(g.Members) > r.client.Session().InviteStartCount {
		invite = true
	}
	return r.client.AddMembers(ctx, chatRoom, members, invite)
}
