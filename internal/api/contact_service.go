package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wxweb/internal/contact"
)

// ListContacts lists one collection, optionally filtered by "query". Kind is
// "friend" (default), "group" or "broadcast".
func (s *Control) ListContacts(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	query := str(in, "query")
	var cs []contact.Contact
	switch kind := str(in, "kind"); kind {
	case "", "friend":
		if query == "" {
			cs = s.contacts.Friends()
		} else {
			cs = s.contacts.SearchFriends(contact.FriendQuery{Name: query})
		}
	case "group":
		if query == "" {
			cs = s.contacts.Groups()
		} else {
			cs = s.contacts.SearchGroups(query)
		}
	case "broadcast":
		if query == "" {
			cs = s.contacts.Broadcasts()
		} else {
			cs = s.contacts.SearchBroadcasts(query)
		}
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown contact kind %q", kind)
	}
	return newStruct(map[string]any{"contacts": list(cs, contactToMap)})
}

func contactToMap(c contact.Contact) map[string]any {
	m := map[string]any{
		"kind":        c.Kind.String(),
		"user_name":   c.UserName,
		"nick_name":   c.NickName,
		"remark_name": c.RemarkName,
	}
	if c.Kind == contact.KindGroup {
		m["member_count"] = len(c.Members)
		m["owner"] = c.ChatRoomOwner
	}
	return m
}
