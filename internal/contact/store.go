package contact

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// collection is an insertion-ordered, identifier-unique list of contacts.
type collection struct {
	items []Contact
	index map[string]int
}

func newCollection() *collection {
	return &collection{index: make(map[string]int)}
}

func (c *collection) get(userName string) *Contact {
	i, ok := c.index[userName]
	if !ok {
		return nil
	}
	return &c.items[i]
}

func (c *collection) add(ct Contact) *Contact {
	c.index[ct.UserName] = len(c.items)
	c.items = append(c.items, ct)
	return &c.items[len(c.items)-1]
}

func (c *collection) clone() []Contact {
	out := make([]Contact, len(c.items))
	for i, ct := range c.items {
		out[i] = ct.Clone()
	}
	return out
}

func (c *collection) reset(items []Contact) {
	c.items = c.items[:0]
	c.index = make(map[string]int, len(items))
	for _, ct := range items {
		if _, dup := c.index[ct.UserName]; dup {
			continue
		}
		c.add(ct.Clone())
	}
}

// Store is the in-memory mirror of friends, broadcast accounts and groups.
// All access goes through a single mutex; every returned Contact is a deep
// copy.
type Store struct {
	mu         sync.Mutex
	self       Contact
	friends    *collection
	broadcasts *collection
	groups     *collection
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		friends:    newCollection(),
		broadcasts: newCollection(),
		groups:     newCollection(),
	}
}

// SetSelf records the local account and makes it the first friend entry.
func (s *Store) SetSelf(self Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	self.Kind = KindFriend
	s.self = self.Clone()
	if existing := s.friends.get(self.UserName); existing != nil {
		existing.merge(self)
		return
	}
	s.friends.add(self.Clone())
}

// Self returns the local account record.
func (s *Store) Self() Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self.Clone()
}

// SelfUserName returns the local account identifier.
func (s *Store) SelfUserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self.UserName
}

// MergeFriends merges non-group records. New records land in the broadcast
// collection when their verify flag carries VerifyFlagBroadcast.
func (s *Store) MergeFriends(records []Contact) Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := Change{Info: "friends"}
	for _, in := range records {
		if in.UserName == "" {
			continue
		}
		ch.UserNames = append(ch.UserNames, in.UserName)
		if existing := s.friendOrBroadcast(in.UserName); existing != nil {
			existing.merge(in)
			continue
		}
		ct := in.Clone()
		ct.Members, ct.Self, ct.IsAdmin = nil, nil, nil
		if ct.VerifyFlag&VerifyFlagBroadcast == 0 {
			ct.Kind = KindFriend
			s.friends.add(ct)
		} else {
			ct.Kind = KindBroadcast
			s.broadcasts.add(ct)
		}
	}
	return ch
}

func (s *Store) friendOrBroadcast(userName string) *Contact {
	if c := s.friends.get(userName); c != nil {
		return c
	}
	return s.broadcasts.get(userName)
}

// MergeGroups merges group records and their member lists. With FullMembers,
// members absent from a non-empty incoming list are pruned.
func (s *Store) MergeGroups(records []Contact, mode MemberMode) Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := Change{Info: "chatrooms"}
	for _, in := range records {
		if in.UserName == "" {
			continue
		}
		ch.UserNames = append(ch.UserNames, in.UserName)
		g := s.groups.get(in.UserName)
		if g == nil {
			fresh := in.Clone()
			fresh.Kind = KindGroup
			fresh.Members = nil
			g = s.groups.add(fresh)
			mergeMembers(g, in.Members, PartialMembers)
		} else {
			g.merge(in)
			mergeMembers(g, in.Members, mode)
		}
		s.updateOwner(g)
		s.updateSelf(g)
	}
	return ch
}

func mergeMembers(g *Contact, incoming []Member, mode MemberMode) {
	pos := make(map[string]int, len(g.Members))
	for i, m := range g.Members {
		pos[m.UserName] = i
	}
	seen := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		if m.UserName == "" {
			continue
		}
		seen[m.UserName] = struct{}{}
		if i, ok := pos[m.UserName]; ok {
			g.Members[i].merge(m)
			continue
		}
		pos[m.UserName] = len(g.Members)
		g.Members = append(g.Members, m)
	}
	if mode != FullMembers || len(seen) == 0 || len(seen) == len(g.Members) {
		return
	}
	kept := g.Members[:0]
	for _, m := range g.Members {
		if _, ok := seen[m.UserName]; ok {
			kept = append(kept, m)
		}
	}
	g.Members = kept
}

func (s *Store) updateOwner(g *Contact) {
	if g.ChatRoomOwner == "" {
		g.IsAdmin = nil
		return
	}
	g.OwnerUin = 0
	if owner, ok := g.Member(g.ChatRoomOwner); ok {
		g.OwnerUin = owner.Uin
	}
	admin := g.OwnerUin == s.self.Uin
	g.IsAdmin = &admin
}

func (s *Store) updateSelf(g *Contact) {
	if m, ok := g.Member(s.self.UserName); ok {
		g.Self = &m
		return
	}
	self := s.self.AsMember()
	g.Self = &self
}

// ApplyUIN records a numeric id for a known contact. It reports whether the
// contact exists and whether its uin changed from unset.
func (s *Store) ApplyUIN(userName string, uin int64) (found, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lookup(userName)
	if c == nil {
		return false, false
	}
	if c.Uin == 0 {
		c.Uin = uin
		return true, true
	}
	return true, false
}

// SetRemarkName updates a friend's remark locally.
func (s *Store) SetRemarkName(userName, remark string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.friends.get(userName)
	if c == nil {
		return false
	}
	c.RemarkName = remark
	return true
}

func (s *Store) lookup(userName string) *Contact {
	if c := s.friends.get(userName); c != nil {
		return c
	}
	if c := s.broadcasts.get(userName); c != nil {
		return c
	}
	return s.groups.get(userName)
}

// Lookup finds a contact of any kind.
func (s *Store) Lookup(userName string) (Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.lookup(userName); c != nil {
		return c.Clone(), true
	}
	return Contact{}, false
}

// Friend returns a friend by identifier.
func (s *Store) Friend(userName string) (Contact, bool) {
	return s.getFrom(func() *collection { return s.friends }, userName)
}

// Broadcast returns a broadcast account by identifier.
func (s *Store) Broadcast(userName string) (Contact, bool) {
	return s.getFrom(func() *collection { return s.broadcasts }, userName)
}

// Group returns a group by identifier.
func (s *Store) Group(userName string) (Contact, bool) {
	return s.getFrom(func() *collection { return s.groups }, userName)
}

func (s *Store) getFrom(pick func() *collection, userName string) (Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := pick().get(userName); c != nil {
		return c.Clone(), true
	}
	return Contact{}, false
}

// Friends returns every friend, the local account first.
func (s *Store) Friends() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friends.clone()
}

// Broadcasts returns every broadcast account.
func (s *Store) Broadcasts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcasts.clone()
}

// Groups returns every group.
func (s *Store) Groups() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups.clone()
}

// FriendQuery selects friends. Name matches any of the remark, nick name or
// alias; the other fields must all match when set.
type FriendQuery struct {
	Name       string
	RemarkName string
	NickName   string
	Alias      string
}

func (q FriendQuery) empty() bool {
	return q.Name == "" && q.RemarkName == "" && q.NickName == "" && q.Alias == ""
}

// SearchFriends returns matching friends. An empty query returns the local
// account record alone.
func (s *Store) SearchFriends(q FriendQuery) []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.empty() {
		if s.self.UserName == "" {
			return nil
		}
		return []Contact{s.self.Clone()}
	}
	var out []Contact
	for _, c := range s.friends.items {
		if q.Name != "" && !equalFold(c.RemarkName, q.Name) && !equalFold(c.NickName, q.Name) && !equalFold(c.Alias, q.Name) {
			continue
		}
		if q.RemarkName != "" && !equalFold(c.RemarkName, q.RemarkName) {
			continue
		}
		if q.NickName != "" && !equalFold(c.NickName, q.NickName) {
			continue
		}
		if q.Alias != "" && !equalFold(c.Alias, q.Alias) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

// SearchGroups returns groups whose nick name contains name.
func (s *Store) SearchGroups(name string) []Contact {
	return s.searchByName(func() *collection { return s.groups }, name)
}

// SearchBroadcasts returns broadcast accounts whose nick name contains name.
func (s *Store) SearchBroadcasts(name string) []Contact {
	return s.searchByName(func() *collection { return s.broadcasts }, name)
}

func (s *Store) searchByName(pick func() *collection, name string) []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := fold(name)
	var out []Contact
	for _, c := range pick().items {
		if strings.Contains(fold(c.NickName), needle) {
			out = append(out, c.Clone())
		}
	}
	return out
}

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(norm.NFC.String(s))
}

func equalFold(a, b string) bool {
	return fold(a) == fold(b)
}

// Snapshot is a serializable copy of the whole store.
type Snapshot struct {
	Self       Contact   `cbor:"1,keyasint"`
	Friends    []Contact `cbor:"2,keyasint"`
	Broadcasts []Contact `cbor:"3,keyasint"`
	Groups     []Contact `cbor:"4,keyasint"`
}

// Snapshot returns a deep copy of all collections.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Self:       s.self.Clone(),
		Friends:    s.friends.clone(),
		Broadcasts: s.broadcasts.clone(),
		Groups:     s.groups.clone(),
	}
}

// Restore replaces all collections with the snapshot contents.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = snap.Self.Clone()
	s.friends.reset(snap.Friends)
	s.broadcasts.reset(snap.Broadcasts)
	s.groups.reset(snap.Groups)
}

// Reset clears everything, including the local account.
func (s *Store) Reset() {
	s.Restore(Snapshot{})
}

// Counts returns the sizes of the three collections.
func (s *Store) Counts() (friends, broadcasts, groups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.friends.items), len(s.broadcasts.items), len(s.groups.items)
}
