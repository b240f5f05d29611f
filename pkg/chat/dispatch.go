package chat

import (
	"sync"

	"github.com/meszmate/chatkit/internal/xmpp"
)

// MessageListener receives inbound chat messages.
type MessageListener func(senderID int, m Message)

// SystemMessageListener receives inbound system messages.
type SystemMessageListener func(m Message)

// StatusListener receives delivered or read acknowledgments.
type StatusListener func(messageID, dialogID string, userID int)

// PresenceListener receives contact presence changes.
type PresenceListener func(p PresenceUpdate)

// StateListener receives connection-state transitions that happen outside a
// caller's own call, e.g. a transport drop.
type StateListener func(s State, err error)

// listenerSet is the per-session single-slot subscription table: at most one
// active callback per event kind, last registration wins. Registration is
// not synchronized against an in-flight dispatch; replacement applies to
// subsequent events only.
type listenerSet struct {
	mu        sync.RWMutex
	message   MessageListener
	system    SystemMessageListener
	delivered StatusListener
	read      StatusListener
	presence  PresenceListener
	state     StateListener
}

func (l *listenerSet) setMessage(fn MessageListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.message = fn
}

func (l *listenerSet) setSystem(fn SystemMessageListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.system = fn
}

func (l *listenerSet) setDelivered(fn StatusListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivered = fn
}

func (l *listenerSet) setRead(fn StatusListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.read = fn
}

func (l *listenerSet) setPresence(fn PresenceListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.presence = fn
}

func (l *listenerSet) setState(fn StateListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = fn
}

func (l *listenerSet) getMessage() MessageListener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.message
}

func (l *listenerSet) getSystem() SystemMessageListener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.system
}

func (l *listenerSet) getDelivered() StatusListener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.delivered
}

func (l *listenerSet) getRead() StatusListener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.read
}

func (l *listenerSet) getPresence() PresenceListener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.presence
}

func (l *listenerSet) getState() StateListener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// dispatch routes one inbound frame. It runs on the read loop, so frames
// reach listeners sequentially in arrival order. Receipts feed the tracker
// before any listener; an event with no listener is discarded; an unknown
// frame is dropped with a warning and never surfaces as an error.
func (s *Session) dispatch(f xmpp.Frame) {
	switch f.Kind {
	case xmpp.KindChat:
		if fn := s.listeners.getMessage(); fn != nil {
			fn(f.SenderID, frameMessage(f))
		}
	case xmpp.KindSystem:
		if fn := s.listeners.getSystem(); fn != nil {
			fn(frameMessage(f))
		}
	case xmpp.KindDelivered:
		s.handleReceipt(ReceiptDelivered, f)
	case xmpp.KindRead:
		s.handleReceipt(ReceiptRead, f)
	case xmpp.KindPresence:
		if fn := s.listeners.getPresence(); fn != nil {
			fn(PresenceUpdate{UserID: f.SenderID, Presence: f.Presence})
		}
	default:
		s.log.Warn().Str("frame_id", f.ID).Msg("unknown frame discriminator, dropping")
	}
}

func (s *Session) handleReceipt(kind ReceiptKind, f xmpp.Frame) {
	r := Receipt{MessageID: f.MessageID, DialogID: f.DialogID, UserID: f.SenderID}

	s.tracker.resolve(kind, r)
	s.journalReceipt(kind, r)

	var fn StatusListener
	if kind == ReceiptDelivered {
		fn = s.listeners.getDelivered()
	} else {
		fn = s.listeners.getRead()
	}
	if fn != nil {
		fn(r.MessageID, r.DialogID, r.UserID)
	}
}

func (s *Session) journalReceipt(kind ReceiptKind, r Receipt) {
	if s.journal == nil {
		return
	}
	var err error
	if kind == ReceiptDelivered {
		_, err = s.journal.MarkDelivered(r.MessageID)
	} else {
		_, err = s.journal.MarkRead(r.MessageID)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", r.MessageID).Msg("failed to journal receipt")
	}
}

func (s *Session) handleState(st xmpp.State, err error) {
	if fn := s.listeners.getState(); fn != nil {
		fn(st, mapStreamError(err))
	}
}
