package api

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/store"
)

// SendText queues "text" for "to", which is a user name or a unique friend
// or group name.
func (s *Control) SendText(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	to, text := str(in, "to"), str(in, "text")
	if to == "" || text == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "to and text are required")
	}
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	userName, err := s.resolve(to)
	if err != nil {
		return nil, err
	}
	id, err := s.outbox.Enqueue(userName, text)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "queue message: %v", err)
	}
	return newStruct(map[string]any{"client_msg_id": id, "to": userName})
}

func (s *Control) resolve(to string) (string, error) {
	if strings.HasPrefix(to, "@") || to == "filehelper" {
		return to, nil
	}
	matches := s.contacts.SearchFriends(contact.FriendQuery{Name: to})
	matches = append(matches, s.contacts.SearchGroups(to)...)
	switch len(matches) {
	case 0:
		return "", grpcstatus.Errorf(codes.NotFound, "no contact named %q", to)
	case 1:
		return matches[0].UserName, nil
	default:
		return "", grpcstatus.Errorf(codes.FailedPrecondition, "%d contacts match %q", len(matches), to)
	}
}

func (s *Control) ListMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID := str(in, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "chat_id is required")
	}
	limit := num(in, "limit", 50)
	msgs, err := s.archive.ListMessages(chatID, int64(num(in, "before_ms", 0)), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return newStruct(map[string]any{
		"messages": list(msgs, messageToMap),
		"has_more": len(msgs) == limit,
	})
}

func (s *Control) SearchMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	query := str(in, "query")
	if query == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "query is required")
	}
	limit := num(in, "limit", 50)
	results, err := s.archive.SearchMessages(query, str(in, "chat_id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return newStruct(map[string]any{
		"results": list(results, func(r store.SearchResult) map[string]any {
			m := messageToMap(r.Message)
			m["snippet"] = r.Snippet
			return m
		}),
		"has_more": len(results) == limit,
	})
}

func messageToMap(m store.Message) map[string]any {
	return map[string]any{
		"chat_id":     m.ChatID,
		"msg_id":      m.MsgID,
		"sender_id":   m.SenderID,
		"sender_name": m.SenderName,
		"body":        m.Body,
		"type":        m.Type,
		"from_me":     m.FromMe,
		"is_at":       m.IsAt,
		"status":      m.Status,
		"timestamp":   m.Timestamp,
	}
}
