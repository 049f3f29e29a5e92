package message

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/wx"
)

// Media builds deferred downloads. *wx.Client implements it.
type Media interface {
	ImageDownload(msgID string) wx.Download
	VoiceDownload(msgID string) wx.Download
	VideoDownload(msgID string) wx.Download
	AttachmentDownload(m wx.RawMessage) wx.Download
}

// Roster performs the contact lookups that need the network. Implementations
// must not be called with the store lock held.
type Roster interface {
	RefreshGroup(ctx context.Context, userName string) (contact.Contact, bool)
	ApplyUINs(ctx context.Context, content, statusNotifyUserName string) []string
}

// Normalizer turns raw sync messages into envelopes.
type Normalizer struct {
	store  *contact.Store
	media  Media
	roster Roster
	logger *zap.Logger
	now    func() time.Time
}

// NewNormalizer creates a normalizer. roster may be nil, in which case
// unknown group senders are left unresolved and uin updates are skipped.
func NewNormalizer(store *contact.Store, media Media, roster Roster, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		store:  store,
		media:  media,
		roster: roster,
		logger: logger,
		now:    time.Now,
	}
}

// Normalize classifies raws in order.
func (n *Normalizer) Normalize(ctx context.Context, raws []wx.RawMessage) []*Envelope {
	out := make([]*Envelope, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.normalize(ctx, raw))
	}
	return out
}

func (n *Normalizer) normalize(ctx context.Context, raw wx.RawMessage) *Envelope {
	self := n.store.Self()
	env := &Envelope{RawMessage: raw}

	opposite := raw.FromUserName
	if raw.FromUserName == self.UserName {
		opposite = raw.ToUserName
	}
	if contact.IsGroupName(raw.FromUserName) || contact.IsGroupName(raw.ToUserName) {
		env.IsGroup = true
		n.parseGroup(ctx, env, self)
	} else {
		env.Content = wx.FormatContent(env.Content)
	}
	env.User = n.resolveUser(opposite)
	n.classify(ctx, env)

	n.logger.Debug("message classified",
		zap.String("msg_id", raw.MsgID),
		zap.Int("msg_type", raw.MsgType),
		zap.String("type", string(env.Type)),
	)
	return env
}

func (n *Normalizer) parseGroup(ctx context.Context, env *Envelope, self contact.Contact) {
	actual, content, ok := wx.SplitGroupContent(env.Content)
	var chatroom string
	switch {
	case ok:
		chatroom = env.FromUserName
	case env.FromUserName == self.UserName:
		actual = self.UserName
		content = env.Content
		chatroom = env.ToUserName
	default:
		env.ActualUserName = self.UserName
		env.ActualNickName = self.NickName
		env.Content = wx.FormatContent(env.Content)
		return
	}

	group, _ := n.store.Group(chatroom)
	member, found := group.Member(actual)
	if !found && n.roster != nil {
		if g, ok := n.roster.RefreshGroup(ctx, chatroom); ok {
			group = g
			member, found = group.Member(actual)
		}
	}
	if !found {
		n.logger.Debug("group member not found",
			zap.String("group", chatroom),
			zap.String("member", actual),
		)
	} else {
		env.ActualNickName = member.Name()
		name := self.NickName
		if group.Self != nil && group.Self.DisplayName != "" {
			name = group.Self.DisplayName
		}
		env.IsAt = IsAt(env.Content, name)
	}
	env.ActualUserName = actual
	env.Content = wx.FormatContent(content)
}

// IsAt reports whether content addresses name with a mention. The mention
// must be followed by U+2005 (or a space when the body has no U+2005) or
// end the body.
func IsAt(content, name string) bool {
	if name == "" {
		return false
	}
	flag := "@" + name
	sep := " "
	if strings.Contains(content, "\u2005") {
		sep = "\u2005"
	}
	return strings.Contains(content, flag+sep) || strings.HasSuffix(content, flag)
}

func (n *Normalizer) resolveUser(userName string) contact.Contact {
	switch {
	case contact.IsGroupName(userName):
		if g, ok := n.store.Group(userName); ok {
			return g
		}
		return contact.Contact{Kind: contact.KindGroup, UserName: userName}
	case userName == "filehelper" || userName == "fmessage":
		return contact.Contact{Kind: contact.KindFriend, UserName: userName}
	}
	if b, ok := n.store.Broadcast(userName); ok {
		return b
	}
	if f, ok := n.store.Friend(userName); ok {
		return f
	}
	return contact.Contact{Kind: contact.KindFriend, UserName: userName}
}

func (n *Normalizer) stamp(ext string) string {
	return n.now().Format("060102-150405") + "." + ext
}

func (n *Normalizer) classify(ctx context.Context, env *Envelope) {
	newID := strconv.FormatInt(env.NewMsgID, 10)
	switch env.MsgType {
	case 1:
		if env.URL != "" {
			env.Type = Map
			env.Text = wx.ParseMapLabel(env.Content)
			return
		}
		env.Type = Text
		env.Text = env.Content
	case 3, 47:
		ext := "png"
		if env.MsgType == 47 {
			ext = "gif"
		}
		env.Type = Picture
		env.FileName = n.stamp(ext)
		n.attach(env, func(m Media) wx.Download { return m.ImageDownload(newID) })
	case 34:
		env.Type = Recording
		env.FileName = n.stamp("mp3")
		n.attach(env, func(m Media) wx.Download { return m.VoiceDownload(newID) })
	case 37:
		info := env.RecommendInfo
		env.Type = Friends
		env.User.UserName = info.UserName
		env.Friend = &FriendRequest{
			Status:        env.Status,
			UserName:      info.UserName,
			VerifyContent: env.Ticket,
			AutoUpdate:    info,
		}
		env.Text = info.Content
	case 42:
		info := env.RecommendInfo
		env.Type = Card
		env.Card = &info
		env.Text = info.NickName
	case 43, 62:
		env.Type = Video
		env.FileName = n.stamp("mp4")
		msgID := env.MsgID
		n.attach(env, func(m Media) wx.Download { return m.VideoDownload(msgID) })
	case 49:
		n.classifyApp(env, newID)
	case 51:
		env.Type = System
		env.SystemInfo = InfoUINs
		if n.roster != nil {
			env.UserNames = n.roster.ApplyUINs(ctx, env.Content, env.StatusNotifyUserName)
		}
	case 10000:
		env.Type = Note
		env.Text = env.Content
	case 10002:
		env.Type = Note
		env.Text = wx.ParseSystemNote(env.Content)
	default:
		env.Type = Useless
		env.Text = "UselessMsg"
	}
}

func (n *Normalizer) classifyApp(env *Envelope, newID string) {
	switch env.AppMsgType {
	case 0:
		env.Type = Note
		env.Text = env.Content
	case 6:
		env.Type = Attachment
		env.FileName = env.RawMessage.FileName
		raw := env.RawMessage
		n.attach(env, func(m Media) wx.Download { return m.AttachmentDownload(raw) })
	case 8:
		env.Type = Picture
		env.FileName = n.stamp("gif")
		n.attach(env, func(m Media) wx.Download { return m.ImageDownload(newID) })
	case 17:
		env.Type = Note
		env.Text = env.RawMessage.FileName
	case 2000:
		env.Type = Note
		env.Text = wx.ParseTransferNote(env.Content)
	default:
		env.Type = Sharing
		env.Text = env.RawMessage.FileName
	}
}

func (n *Normalizer) attach(env *Envelope, build func(Media) wx.Download) {
	if n.media == nil {
		return
	}
	d := build(n.media)
	env.Download = &d
}
