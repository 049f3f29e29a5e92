package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *Control) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	self := s.contacts.Self()
	friends, broadcasts, groups := s.contacts.Counts()
	// Counts includes the local account as the first friend.
	if self.UserName != "" && friends > 0 {
		friends--
	}
	return newStruct(map[string]any{
		"session":    s.sessionName,
		"status":     string(s.machine.Current()),
		"user_name":  self.UserName,
		"nick_name":  self.NickName,
		"friends":    friends,
		"broadcasts": broadcasts,
		"groups":     groups,
		"uptime_ms":  time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *Control) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.session == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "session not initialized")
	}
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	s.session.Logout(ctx)
	return &emptypb.Empty{}, nil
}
