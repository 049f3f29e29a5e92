package bus

import "time"

// Event kinds published by the daemon.
const (
	KindStatusChanged   = "session.status_changed"
	KindQRCode          = "session.qr_code"
	KindLoggedIn        = "session.logged_in"
	KindLoggedOut       = "session.logged_out"
	KindMessageReceived = "message.received"
	KindMessageUpserted = "message.upserted"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"
	KindContactsChanged = "contact.changed"
	KindSyncStopped     = "sync.stopped"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}
