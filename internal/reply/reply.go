// Package reply routes received envelopes to registered handlers and sends
// their answers back.
package reply

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/message"
	"github.com/matheus3301/wxweb/internal/wx"
)

//go:generate mockgen -source=reply.go -destination=mock_sender_test.go -package=reply Sender

// Sender delivers a reply. *wx.Client implements it; content may carry the
// @fil@, @img@, @vid@ or @msg@ prefixes.
type Sender interface {
	Send(ctx context.Context, content, toUserName string) wx.Result
}

// Handler answers an envelope. An empty reply sends nothing.
type Handler func(ctx context.Context, env *message.Envelope) (string, error)

type key struct {
	kind contact.Kind
	typ  message.Type
}

// Registry maps (conversation kind, message type) to a handler. The last
// registration for a pair wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[key]Handler)}
}

// Register binds h to every type for each kind. With no kinds, h serves
// friend conversations only.
func (r *Registry) Register(h Handler, kinds []contact.Kind, types ...message.Type) {
	if len(kinds) == 0 {
		kinds = []contact.Kind{contact.KindFriend}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		for _, t := range types {
			r.handlers[key{k, t}] = h
		}
	}
}

// Lookup returns the handler for a pair.
func (r *Registry) Lookup(kind contact.Kind, typ message.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key{kind, typ}]
	return h, ok
}

// Len returns the number of registered pairs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatcher drains the message queue through the registry.
type Dispatcher struct {
	registry *Registry
	queue    *message.Queue
	sender   Sender
	logger   *zap.Logger
	// Poll bounds each queue wait so ctx is rechecked.
	Poll time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, queue *message.Queue, sender Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, queue: queue, sender: sender, logger: logger, Poll: time.Second}
}

// Run handles envelopes until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		env, ok := d.queue.Get(ctx, d.Poll)
		if !ok {
			continue
		}
		d.Handle(ctx, env)
	}
}

// Handle runs the handler for env, if any, and sends a non-empty reply to
// the envelope's sender. Handler failures are logged.
func (d *Dispatcher) Handle(ctx context.Context, env *message.Envelope) {
	h, ok := d.registry.Lookup(env.User.Kind, env.Type)
	if !ok {
		return
	}
	out, err := d.call(ctx, h, env)
	if err != nil {
		d.logger.Warn("reply handler failed",
			zap.String("msg_id", env.MsgID),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		return
	}
	if out == "" {
		return
	}
	if res := d.sender.Send(ctx, out, env.FromUserName); !res.OK() {
		d.logger.Warn("reply send failed",
			zap.String("to", env.FromUserName),
			zap.Int("ret", res.Ret),
			zap.String("err_msg", res.ErrMsg),
		)
	}
}

func (d *Dispatcher) call(ctx context.Context, h Handler, env *message.Envelope) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}
