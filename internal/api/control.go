// Package api serves the daemon control service over the session socket.
package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/status"
	"github.com/matheus3301/wxweb/internal/store"
)

// Archive is the message history. *store.DB implements it.
type Archive interface {
	ListChats(limit, offset int) ([]store.Chat, error)
	ListMessages(chatID string, beforeTs int64, limit int) ([]store.Message, error)
	SearchMessages(query, chatID string, limit int) ([]store.SearchResult, error)
}

// Outbox queues texts for sending. *outbox.Sender implements it.
type Outbox interface {
	Enqueue(chatID, text string) (string, error)
}

// Session ends the login. *login.Manager implements it.
type Session interface {
	Logout(ctx context.Context)
}

// Control implements ControlServer.
type Control struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	contacts    *contact.Store
	archive     Archive
	outbox      Outbox
	session     Session
	bus         *bus.Bus
}

var _ ControlServer = (*Control)(nil)

// NewControl creates the control service.
func NewControl(sessionName string, machine *status.Machine, contacts *contact.Store, archive Archive, outbox Outbox, session Session, b *bus.Bus) *Control {
	return &Control{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		contacts:    contacts,
		archive:     archive,
		outbox:      outbox,
		session:     session,
		bus:         b,
	}
}

func (s *Control) requireLogin() error {
	if s.machine.Current() != status.Bootstrapped {
		return grpcstatus.Errorf(codes.FailedPrecondition, "not logged in (%s)", s.machine.Current())
	}
	return nil
}

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func num(in *structpb.Struct, key string, def int) int {
	v, ok := in.GetFields()[key]
	if !ok {
		return def
	}
	if n := int(v.GetNumberValue()); n > 0 {
		return n
	}
	return def
}

func list[T any](items []T, conv func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}
