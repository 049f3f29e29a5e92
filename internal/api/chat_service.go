package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wxweb/internal/store"
)

func (s *Control) ListChats(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := num(in, "limit", 50)
	chats, err := s.archive.ListChats(limit, num(in, "offset", 0))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	return newStruct(map[string]any{
		"chats":    list(chats, chatToMap),
		"has_more": len(chats) == limit,
	})
}

func chatToMap(c store.Chat) map[string]any {
	return map[string]any{
		"chat_id":              c.ChatID,
		"name":                 c.Name,
		"is_group":             c.IsGroup,
		"unread_count":         c.UnreadCount,
		"last_message_at":      c.LastMessageAt,
		"last_message_preview": c.LastMessagePreview,
	}
}
