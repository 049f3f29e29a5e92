package wx

import (
	"strconv"
	"strings"

	"github.com/matheus3301/wxweb/internal/contact"
)

// flexInt decodes numbers the service sometimes sends as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// RawMember is a member record as sent inside a group's MemberList.
type RawMember struct {
	UserName    string  `json:"UserName"`
	NickName    string  `json:"NickName"`
	DisplayName string  `json:"DisplayName"`
	RemarkName  string  `json:"RemarkName"`
	Uin         flexInt `json:"Uin"`
	AttrStatus  flexInt `json:"AttrStatus"`
	KeyWord     string  `json:"KeyWord"`
}

// RawContact is a contact record as the service sends it.
type RawContact struct {
	UserName        string      `json:"UserName"`
	NickName        string      `json:"NickName"`
	RemarkName      string      `json:"RemarkName"`
	DisplayName     string      `json:"DisplayName"`
	Alias           string      `json:"Alias"`
	Uin             flexInt     `json:"Uin"`
	VerifyFlag      int         `json:"VerifyFlag"`
	Sex             int         `json:"Sex"`
	ContactFlag     int         `json:"ContactFlag"`
	Signature       string      `json:"Signature"`
	Province        string      `json:"Province"`
	City            string      `json:"City"`
	HeadImgURL      string      `json:"HeadImgUrl"`
	StarFriend      int         `json:"StarFriend"`
	EncryChatRoomID string      `json:"EncryChatRoomId"`
	MemberCount     int         `json:"MemberCount"`
	MemberList      []RawMember `json:"MemberList"`
	ChatRoomOwner   string      `json:"ChatRoomOwner"`
}

// Contact converts the wire record into a store record, decoding emoji in
// the name fields.
func (r RawContact) Contact() contact.Contact {
	c := contact.Contact{
		UserName:        r.UserName,
		NickName:        FormatEmoji(r.NickName),
		RemarkName:      FormatEmoji(r.RemarkName),
		DisplayName:     FormatEmoji(r.DisplayName),
		Alias:           r.Alias,
		Uin:             int64(r.Uin),
		VerifyFlag:      r.VerifyFlag,
		Sex:             r.Sex,
		ContactFlag:     r.ContactFlag,
		Signature:       r.Signature,
		Province:        r.Province,
		City:            r.City,
		HeadImgURL:      r.HeadImgURL,
		StarFriend:      r.StarFriend,
		EncryChatRoomID: r.EncryChatRoomID,
		MemberCount:     r.MemberCount,
		ChatRoomOwner:   r.ChatRoomOwner,
	}
	switch {
	case contact.IsGroupName(r.UserName):
		c.Kind = contact.KindGroup
	case r.VerifyFlag&contact.VerifyFlagBroadcast != 0:
		c.Kind = contact.KindBroadcast
	default:
		c.Kind = contact.KindFriend
	}
	for _, m := range r.MemberList {
		c.Members = append(c.Members, m.Member())
	}
	return c
}

// Member converts the wire member record.
func (m RawMember) Member() contact.Member {
	return contact.Member{
		UserName:    m.UserName,
		NickName:    FormatEmoji(m.NickName),
		DisplayName: FormatEmoji(m.DisplayName),
		RemarkName:  FormatEmoji(m.RemarkName),
		Uin:         int64(m.Uin),
		AttrStatus:  int64(m.AttrStatus),
		KeyWord:     m.KeyWord,
	}
}

// SplitContacts separates group records from everything else. Records with a
// non-zero sex are always people, whatever their identifier looks like.
func SplitContacts(raws []RawContact) (groups, others []contact.Contact) {
	for _, r := range raws {
		c := r.Contact()
		if r.Sex == 0 && contact.IsGroupName(r.UserName) {
			groups = append(groups, c)
			continue
		}
		if c.Kind == contact.KindGroup {
			c.Kind = contact.KindFriend
		}
		others = append(others, c)
	}
	return groups, others
}

// RecommendInfo accompanies friend requests and name cards.
type RecommendInfo struct {
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	QQNum      int64  `json:"QQNum"`
	Province   string `json:"Province"`
	City       string `json:"City"`
	Content    string `json:"Content"`
	Signature  string `json:"Signature"`
	Alias      string `json:"Alias"`
	Scene      int    `json:"Scene"`
	VerifyFlag int    `json:"VerifyFlag"`
	AttrStatus int64  `json:"AttrStatus"`
	Sex        int    `json:"Sex"`
	Ticket     string `json:"Ticket"`
	OpCode     int    `json:"OpCode"`
}

// RawMessage is one entry of a sync response's AddMsgList.
type RawMessage struct {
	MsgID                string        `json:"MsgId"`
	NewMsgID             int64         `json:"NewMsgId"`
	FromUserName         string        `json:"FromUserName"`
	ToUserName           string        `json:"ToUserName"`
	MsgType              int           `json:"MsgType"`
	AppMsgType           int           `json:"AppMsgType"`
	SubMsgType           int           `json:"SubMsgType"`
	Content              string        `json:"Content"`
	Status               int           `json:"Status"`
	ImgStatus            int           `json:"ImgStatus"`
	CreateTime           int64         `json:"CreateTime"`
	VoiceLength          int           `json:"VoiceLength"`
	PlayLength           int           `json:"PlayLength"`
	FileName             string        `json:"FileName"`
	FileSize             string        `json:"FileSize"`
	MediaID              string        `json:"MediaId"`
	URL                  string        `json:"Url"`
	StatusNotifyCode     int           `json:"StatusNotifyCode"`
	StatusNotifyUserName string        `json:"StatusNotifyUserName"`
	RecommendInfo        RecommendInfo `json:"RecommendInfo"`
	ForwardFlag          int           `json:"ForwardFlag"`
	HasProductID         int           `json:"HasProductId"`
	Ticket               string        `json:"Ticket"`
	ImgHeight            int           `json:"ImgHeight"`
	ImgWidth             int           `json:"ImgWidth"`
	OriContent           string        `json:"OriContent"`
	EncryFileName        string        `json:"EncryFileName"`
}
