package domain

import "time"

// SenderRole identifies who authored a Message.
type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderAgent    SenderRole = "agent"
	SenderSystem   SenderRole = "system"
)

// MessageKind is the payload shape of a persisted Message: text, image,
// file, or a system notice generated by a transition.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// MaxMessageLength is the body length TooLong checks against. SendMessage
// does not call TooLong, so longer bodies are accepted and stored.
const MaxMessageLength = 4096

// Message is a single persisted entry in a ChatSession's transcript.
type Message struct {
	ID         string
	SessionID  string
	SenderRole SenderRole
	SenderID   string // agent ID for agent messages; empty for customer and system
	Kind       MessageKind
	Body       string
	FileRef    string // storage key/URL for image/file messages; empty otherwise
	CreatedAt  time.Time
}

// TooLong reports whether the body exceeds MaxMessageLength.
func (m *Message) TooLong() bool {
	return len(m.Body) > MaxMessageLength
}
