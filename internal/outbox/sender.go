package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wxweb/internal/bus"
	"github.com/matheus3301/wxweb/internal/store"
	"github.com/matheus3301/wxweb/internal/wx"
)

// TextSender sends one text message. *wx.Client implements it.
type TextSender interface {
	SendText(ctx context.Context, text, toUserName string) wx.Result
}

// Queue is the outbox table. *store.DB implements it.
type Queue interface {
	QueueOutbox(clientMsgID, chatID, body string) error
	PendingOutbox() ([]store.OutboxEntry, error)
	MarkOutboxSending(clientMsgID string) error
	MarkOutboxSent(clientMsgID, serverMsgID string) error
	MarkOutboxFailed(clientMsgID, errMsg string) error
	RequeueSending() (int64, error)
	UpsertMessage(m *store.Message) error
}

// Ack is the payload of send ack and failure events.
type Ack struct {
	ClientMsgID string
	ChatID      string
	ServerMsgID string
	Ret         int
	Error       string
}

// Sender drains the outbox and sends queued texts.
type Sender struct {
	db       Queue
	sender   TextSender
	bus      *bus.Bus
	self     func() string
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSender creates an outbox sender. self returns the logged-in account id
// used as the sender of archived rows; it may be nil.
func NewSender(db Queue, sender TextSender, b *bus.Bus, self func() string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if self == nil {
		self = func() string { return "" }
	}
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		self:     self,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// Enqueue stores a text for sending and returns its client id.
func (s *Sender) Enqueue(chatID, text string) (string, error) {
	id := uuid.NewString()
	if err := s.db.QueueOutbox(id, chatID, text); err != nil {
		return "", err
	}
	return id, nil
}

// Start requeues sends interrupted by a previous run and begins polling.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueSending(); err != nil {
		s.logger.Warn("requeue interrupted sends failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID))
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	row := store.Message{
		ChatID:    entry.ChatID,
		MsgID:     entry.ClientMsgID,
		SenderID:  s.self(),
		Body:      entry.Body,
		Type:      "Text",
		FromMe:    true,
		Status:    "sending",
		Timestamp: time.Now().UnixMilli(),
	}
	s.upsert(row)

	res := s.sender.SendText(ctx, entry.Body, entry.ChatID)
	ack := Ack{ClientMsgID: entry.ClientMsgID, ChatID: entry.ChatID, Ret: res.Ret}
	if !res.OK() {
		log.Error("failed to send message", zap.Int("ret", res.Ret), zap.String("err_msg", res.ErrMsg))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, res.ErrMsg)
		row.Status = "failed"
		s.upsert(row)
		ack.Error = res.ErrMsg
		s.bus.Emit(bus.KindSendFailed, ack)
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, res.MsgID); err != nil {
		log.Error("failed to mark sent", zap.Error(err))
	}
	row.Status = "sent"
	s.upsert(row)

	log.Info("message sent", zap.String("server_msg_id", res.MsgID))
	ack.ServerMsgID = res.MsgID
	s.bus.Emit(bus.KindSendAck, ack)
}

func (s *Sender) upsert(row store.Message) {
	if err := s.db.UpsertMessage(&row); err != nil {
		s.logger.Warn("archive outgoing message failed", zap.Error(err))
		return
	}
	s.bus.Emit(bus.KindMessageUpserted, row)
}
