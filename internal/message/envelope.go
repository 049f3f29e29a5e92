package message

import (
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/wx"
)

// Type is the semantic classification of a message.
type Type string

const (
	Text       Type = "Text"
	Map        Type = "Map"
	Picture    Type = "Picture"
	Recording  Type = "Recording"
	Friends    Type = "Friends"
	Card       Type = "Card"
	Video      Type = "Video"
	Note       Type = "Note"
	Attachment Type = "Attachment"
	Sharing    Type = "Sharing"
	System     Type = "System"
	Useless    Type = "Useless"
)

// System envelope infos.
const (
	InfoUINs      = "uins"
	InfoChatrooms = "chatrooms"
	InfoFriends   = "friends"
)

// FriendRequest is the payload of a Friends envelope.
type FriendRequest struct {
	Status        int
	UserName      string
	VerifyContent string
	AutoUpdate    wx.RecommendInfo
}

// Envelope is a normalized message. Raw wire fields are embedded; the rest
// is derived.
type Envelope struct {
	wx.RawMessage

	User contact.Contact
	Type Type
	// Text holds the textual payload for text-like types.
	Text     string
	FileName string
	// Download is set for binary types and runs nothing until fetched.
	Download *wx.Download
	Friend   *FriendRequest
	Card     *wx.RecommendInfo

	// SystemInfo and UserNames describe a System envelope.
	SystemInfo string
	UserNames  []string

	IsGroup        bool
	ActualUserName string
	ActualNickName string
	IsAt           bool
}

// Counterpart returns the identifier of the conversation partner.
func (e *Envelope) Counterpart() string {
	return e.User.UserName
}

// HasDownload reports whether the envelope carries a deferred fetch.
func (e *Envelope) HasDownload() bool {
	return e.Download != nil
}

// SystemEnvelope synthesizes the announcement for a contact change.
func SystemEnvelope(ch contact.Change, self string) *Envelope {
	return &Envelope{
		RawMessage: wx.RawMessage{FromUserName: self, ToUserName: self},
		Type:       System,
		SystemInfo: ch.Info,
		UserNames:  append([]string(nil), ch.UserNames...),
	}
}
