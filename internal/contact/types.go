package contact

// Kind discriminates the three contact variants.
type Kind int

const (
	KindFriend Kind = iota
	KindBroadcast
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindFriend:
		return "friend"
	case KindBroadcast:
		return "broadcast"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// VerifyFlagBroadcast marks broadcast (official) accounts.
const VerifyFlagBroadcast = 8

// Member is one entry of a group's member list.
type Member struct {
	UserName    string `json:"UserName" cbor:"1,keyasint"`
	NickName    string `json:"NickName" cbor:"2,keyasint,omitempty"`
	DisplayName string `json:"DisplayName" cbor:"3,keyasint,omitempty"`
	RemarkName  string `json:"RemarkName" cbor:"4,keyasint,omitempty"`
	Uin         int64  `json:"Uin" cbor:"5,keyasint,omitempty"`
	AttrStatus  int64  `json:"AttrStatus" cbor:"6,keyasint,omitempty"`
	KeyWord     string `json:"KeyWord" cbor:"7,keyasint,omitempty"`
}

// Name returns the group display name, falling back to the nick name.
func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.NickName
}

// merge overwrites fields with non-zero incoming values.
func (m *Member) merge(in Member) {
	if in.NickName != "" {
		m.NickName = in.NickName
	}
	if in.DisplayName != "" {
		m.DisplayName = in.DisplayName
	}
	if in.RemarkName != "" {
		m.RemarkName = in.RemarkName
	}
	if in.Uin != 0 {
		m.Uin = in.Uin
	}
	if in.AttrStatus != 0 {
		m.AttrStatus = in.AttrStatus
	}
	if in.KeyWord != "" {
		m.KeyWord = in.KeyWord
	}
}

// Contact is a friend, broadcast account or group. Group-only fields are
// empty for the other kinds; use HasMembers/HasOwner rather than inspecting
// them directly.
type Contact struct {
	Kind        Kind   `json:"Kind" cbor:"1,keyasint"`
	UserName    string `json:"UserName" cbor:"2,keyasint"`
	NickName    string `json:"NickName" cbor:"3,keyasint,omitempty"`
	RemarkName  string `json:"RemarkName" cbor:"4,keyasint,omitempty"`
	DisplayName string `json:"DisplayName" cbor:"5,keyasint,omitempty"`
	Alias       string `json:"Alias" cbor:"6,keyasint,omitempty"`
	Uin         int64  `json:"Uin" cbor:"7,keyasint,omitempty"`
	VerifyFlag  int    `json:"VerifyFlag" cbor:"8,keyasint,omitempty"`
	Sex         int    `json:"Sex" cbor:"9,keyasint,omitempty"`
	ContactFlag int    `json:"ContactFlag" cbor:"10,keyasint,omitempty"`
	Signature   string `json:"Signature" cbor:"11,keyasint,omitempty"`
	Province    string `json:"Province" cbor:"12,keyasint,omitempty"`
	City        string `json:"City" cbor:"13,keyasint,omitempty"`
	HeadImgURL  string `json:"HeadImgUrl" cbor:"14,keyasint,omitempty"`
	StarFriend  int    `json:"StarFriend" cbor:"15,keyasint,omitempty"`

	// Group fields.
	EncryChatRoomID string   `json:"EncryChatRoomId" cbor:"20,keyasint,omitempty"`
	MemberCount     int      `json:"MemberCount" cbor:"21,keyasint,omitempty"`
	Members         []Member `json:"MemberList" cbor:"22,keyasint,omitempty"`
	ChatRoomOwner   string   `json:"ChatRoomOwner" cbor:"23,keyasint,omitempty"`
	OwnerUin        int64    `json:"OwnerUin" cbor:"24,keyasint,omitempty"`
	IsAdmin         *bool    `json:"IsAdmin" cbor:"25,keyasint,omitempty"`
	Self            *Member  `json:"Self" cbor:"26,keyasint,omitempty"`
}

// HasMembers reports whether the contact carries a member list.
func (c Contact) HasMembers() bool { return c.Kind == KindGroup }

// HasOwner reports whether the contact can have an owner.
func (c Contact) HasOwner() bool { return c.Kind == KindGroup }

// IsGroupName reports whether a user name identifies a group.
func IsGroupName(userName string) bool {
	return len(userName) > 2 && userName[:2] == "@@"
}

// Member returns the member with the given user name.
func (c Contact) Member(userName string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserName == userName {
			return m, true
		}
	}
	return Member{}, false
}

// Clone returns a deep copy.
func (c Contact) Clone() Contact {
	out := c
	if c.Members != nil {
		out.Members = make([]Member, len(c.Members))
		copy(out.Members, c.Members)
	}
	if c.IsAdmin != nil {
		v := *c.IsAdmin
		out.IsAdmin = &v
	}
	if c.Self != nil {
		s := *c.Self
		out.Self = &s
	}
	return out
}

// AsMember projects a contact into a member record.
func (c Contact) AsMember() Member {
	return Member{
		UserName:    c.UserName,
		NickName:    c.NickName,
		DisplayName: c.DisplayName,
		RemarkName:  c.RemarkName,
		Uin:         c.Uin,
	}
}

// merge applies incoming non-zero scalar fields. Member lists are handled
// separately by the store.
func (c *Contact) merge(in Contact) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&c.NickName, in.NickName)
	setStr(&c.RemarkName, in.RemarkName)
	setStr(&c.DisplayName, in.DisplayName)
	setStr(&c.Alias, in.Alias)
	setStr(&c.Signature, in.Signature)
	setStr(&c.Province, in.Province)
	setStr(&c.City, in.City)
	setStr(&c.HeadImgURL, in.HeadImgURL)
	setStr(&c.EncryChatRoomID, in.EncryChatRoomID)
	setStr(&c.ChatRoomOwner, in.ChatRoomOwner)
	if in.Uin != 0 {
		c.Uin = in.Uin
	}
	if in.VerifyFlag != 0 {
		c.VerifyFlag = in.VerifyFlag
	}
	if in.Sex != 0 {
		c.Sex = in.Sex
	}
	if in.ContactFlag != 0 {
		c.ContactFlag = in.ContactFlag
	}
	if in.StarFriend != 0 {
		c.StarFriend = in.StarFriend
	}
	if in.MemberCount != 0 {
		c.MemberCount = in.MemberCount
	}
}

// MemberMode tells a group merge whether incoming member lists are the
// complete server set.
type MemberMode int

const (
	// PartialMembers merges members without removing any.
	PartialMembers MemberMode = iota
	// FullMembers prunes members missing from a non-empty incoming list.
	FullMembers
)

// Change describes the identifiers touched by a merge.
type Change struct {
	Info      string // "chatrooms", "friends" or "uins"
	UserNames []string
}

// Empty reports whether nothing was touched.
func (c Change) Empty() bool { return len(c.UserNames) == 0 }
