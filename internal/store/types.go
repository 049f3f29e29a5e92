package store

// Chat is a conversation that has seen at least one archived message.
type Chat struct {
	ChatID             string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is an archived envelope.
type Message struct {
	ID         int64
	ChatID     string
	MsgID      string
	SenderID   string
	SenderName string
	Body       string
	Type       string
	FileName   string
	FromMe     bool
	IsAt       bool
	Status     string
	Timestamp  int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
