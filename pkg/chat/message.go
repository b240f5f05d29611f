package chat

import (
	"time"

	"github.com/meszmate/chatkit/internal/xmpp"
)

// MessageKind distinguishes chat from system messages.
type MessageKind int

const (
	MessageChat MessageKind = iota
	MessageSystem
)

// String returns the string representation of the kind.
func (k MessageKind) String() string {
	if k == MessageSystem {
		return "system"
	}
	return "chat"
}

// Message is one real-time message. The extension payload is opaque to the
// session and delivered byte-for-byte. A message is immutable once sent;
// identity is the id assigned at send time.
type Message struct {
	ID          string
	SenderID    int
	RecipientID int
	Kind        MessageKind
	Extension   map[string]string
	DialogID    string
	Timestamp   time.Time
}

// StatusParams addresses a delivered or read acknowledgment. DialogID may be
// empty for 1-1 exchanges.
type StatusParams struct {
	MessageID string
	DialogID  string
	UserID    int
}

// PresenceUpdate is one contact presence change.
type PresenceUpdate struct {
	UserID   int
	Presence string
}

// State re-exports the connection lifecycle state.
type State = xmpp.State

// Connection states.
const (
	StateDisconnected = xmpp.StateDisconnected
	StateConnecting   = xmpp.StateConnecting
	StateReady        = xmpp.StateReady
	StateDegraded     = xmpp.StateDegraded
	StateClosed       = xmpp.StateClosed
)

// Roster is the contact set returned on successful connection.
type Roster = xmpp.Roster

// Contact is one roster entry.
type Contact = xmpp.Contact

// frameMessage reconstructs a Message from an inbound frame.
func frameMessage(f xmpp.Frame) Message {
	kind := MessageChat
	if f.Kind == xmpp.KindSystem {
		kind = MessageSystem
	}
	return Message{
		ID:          f.ID,
		SenderID:    f.SenderID,
		RecipientID: f.RecipientID,
		Kind:        kind,
		Extension:   f.Extension,
		DialogID:    f.DialogID,
		Timestamp:   f.Timestamp,
	}
}
