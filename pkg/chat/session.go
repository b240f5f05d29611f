package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meszmate/chatkit/internal/rest"
	"github.com/meszmate/chatkit/internal/store"
	"github.com/meszmate/chatkit/internal/xmpp"
)

// Config carries the application credentials and endpoints for a session.
// It replaces process-wide init state: construct it once and pass it to New.
type Config struct {
	// AppID, AuthKey and AuthSecret are the application credentials issued
	// by the platform. All three are required.
	AppID      string `validate:"required"`
	AuthKey    string `validate:"required"`
	AuthSecret string `validate:"required"`

	// APIEndpoint is the REST base URL; ChatEndpoint the stream host.
	// MUCEndpoint is the room host used to resolve senders and dialog ids
	// from room traffic; empty leaves room addresses unresolved.
	APIEndpoint  string `validate:"required,url"`
	ChatEndpoint string `validate:"required"`
	MUCEndpoint  string
	ChatPort     int

	// ConnectTimeout bounds stream establishment; RequestTimeout each REST
	// call. Both default when zero.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// DataDir enables the local message journal when non-empty.
	DataDir string

	Logger zerolog.Logger
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

// Session composes the streaming connection, the dispatcher, the receipt
// tracker and the dialog registry behind a single client handle. One session
// owns exactly one connection.
type Session struct {
	cfg       Config
	log       zerolog.Logger
	conn      *xmpp.Conn
	rest      *rest.Client
	journal   *store.Journal
	tracker   *receiptTracker
	listeners listenerSet
	dialogs   *DialogRegistry
	messages  *MessageService

	mu     sync.RWMutex
	userID int
}

// New creates a session from an explicit configuration. Missing credentials
// fail with ErrNotInitialized; other malformed fields fail with a
// ValidationError.
func New(cfg Config) (*Session, error) {
	if cfg.AppID == "" || cfg.AuthKey == "" || cfg.AuthSecret == "" {
		return nil, fmt.Errorf("%w: application credentials missing", ErrNotInitialized)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, asValidationError(err)
	}

	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	s := &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		tracker: newReceiptTracker(),
	}

	if cfg.DataDir != "" {
		journal, err := store.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.journal = journal
	}

	s.conn = xmpp.NewConn(xmpp.Config{
		AppID:   cfg.AppID,
		Host:    cfg.ChatEndpoint,
		Port:    cfg.ChatPort,
		MUCHost: cfg.MUCEndpoint,
		Logger:  cfg.Logger,
	})
	s.conn.SetFrameHandler(s.dispatch)
	s.conn.SetStateHandler(s.handleState)

	s.rest = rest.NewClient(rest.Config{
		BaseURL:    cfg.APIEndpoint,
		AppID:      cfg.AppID,
		AuthKey:    cfg.AuthKey,
		AuthSecret: cfg.AuthSecret,
		Timeout:    cfg.RequestTimeout,
		Logger:     cfg.Logger,
	})

	s.dialogs = &DialogRegistry{rest: s.rest, userID: s.UserID, log: cfg.Logger}
	s.messages = &MessageService{rest: s.rest, journal: s.journal, log: cfg.Logger}

	return s, nil
}

// Dialogs returns the dialog registry.
func (s *Session) Dialogs() *DialogRegistry {
	return s.dialogs
}

// Messages returns the message history service.
func (s *Session) Messages() *MessageService {
	return s.messages
}

// UserID returns the authenticated user id, zero before sign-in or connect.
func (s *Session) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// State returns the connection state.
func (s *Session) State() State {
	return s.conn.State()
}

// Connect establishes the streaming session and returns the roster snapshot.
// The configured connect timeout applies unless ctx is stricter.
func (s *Session) Connect(ctx context.Context, userID int, password string) (Roster, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	roster, err := s.conn.Connect(ctx, userID, password)
	if err != nil {
		return Roster{}, &ConnectionError{Cause: err}
	}

	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	return roster, nil
}

// SignIn creates the REST session for the user and stores its token for
// subsequent dialog and message calls.
func (s *Session) SignIn(ctx context.Context, login, password string) error {
	restSession, err := s.rest.CreateSession(ctx, login, password)
	if err != nil {
		return mapRESTError(err)
	}

	if restSession.UserID != 0 {
		s.mu.Lock()
		s.userID = restSession.UserID
		s.mu.Unlock()
	}
	return nil
}

// SignOut invalidates the REST session token. Dialog and message calls fail
// until the next SignIn.
func (s *Session) SignOut(ctx context.Context) error {
	return mapRESTError(s.rest.DestroySession(ctx))
}

// Send pushes a chat message to a user. A missing id is assigned at send
// time; the assigned id is returned. Delivery acknowledgment arrives
// asynchronously as a receipt.
func (s *Session) Send(recipientID int, m Message) (string, error) {
	return s.send(recipientID, m, xmpp.KindChat)
}

// SendSystemMessage pushes a system message to a user.
func (s *Session) SendSystemMessage(recipientID int, m Message) (string, error) {
	return s.send(recipientID, m, xmpp.KindSystem)
}

func (s *Session) send(recipientID int, m Message, kind xmpp.Kind) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	err := s.conn.Send(xmpp.Frame{
		Kind:        kind,
		ID:          m.ID,
		RecipientID: recipientID,
		DialogID:    m.DialogID,
		Extension:   m.Extension,
	})
	if err != nil {
		return "", mapStreamError(err)
	}

	if s.journal != nil {
		jerr := s.journal.RecordSend(store.SentMessage{
			ID:          m.ID,
			RecipientID: recipientID,
			DialogID:    m.DialogID,
			Kind:        kind.String(),
			Extension:   m.Extension,
			SentAt:      time.Now(),
		})
		if jerr != nil {
			s.log.Warn().Err(jerr).Str("message_id", m.ID).Msg("failed to journal send")
		}
	}

	return m.ID, nil
}

// SendDeliveredStatus acknowledges delivery of a message to its sender.
func (s *Session) SendDeliveredStatus(params StatusParams) error {
	return s.sendStatus(params, xmpp.KindDelivered)
}

// SendReadStatus acknowledges reading of a message to its sender.
func (s *Session) SendReadStatus(params StatusParams) error {
	return s.sendStatus(params, xmpp.KindRead)
}

func (s *Session) sendStatus(params StatusParams, kind xmpp.Kind) error {
	if params.MessageID == "" {
		return &ValidationError{Field: "MessageID", Reason: "must not be empty"}
	}

	return mapStreamError(s.conn.Send(xmpp.Frame{
		Kind:        kind,
		ID:          uuid.NewString(),
		RecipientID: params.UserID,
		MessageID:   params.MessageID,
		DialogID:    params.DialogID,
	}))
}

// ExpectReceipts registers interest in acknowledgments for a message before
// they can arrive, so a later await cannot miss a fast receipt.
func (s *Session) ExpectReceipts(messageID string, kinds ...ReceiptKind) {
	s.tracker.expect(messageID, kinds...)
}

// AwaitDelivered blocks until the delivered receipt for the message arrives
// or ctx expires, failing with ErrReceiptTimeout.
func (s *Session) AwaitDelivered(ctx context.Context, messageID string) (Receipt, error) {
	return s.tracker.await(ctx, messageID, ReceiptDelivered)
}

// AwaitRead blocks until the read receipt for the message arrives or ctx
// expires, failing with ErrReceiptTimeout.
func (s *Session) AwaitRead(ctx context.Context, messageID string) (Receipt, error) {
	return s.tracker.await(ctx, messageID, ReceiptRead)
}

// OnMessage registers the chat message listener. One listener per event
// kind; a new registration replaces the previous one for subsequent events.
func (s *Session) OnMessage(fn MessageListener) {
	s.listeners.setMessage(fn)
}

// OnSystemMessage registers the system message listener.
func (s *Session) OnSystemMessage(fn SystemMessageListener) {
	s.listeners.setSystem(fn)
}

// OnDeliveredStatus registers the delivered acknowledgment listener.
func (s *Session) OnDeliveredStatus(fn StatusListener) {
	s.listeners.setDelivered(fn)
}

// OnReadStatus registers the read acknowledgment listener.
func (s *Session) OnReadStatus(fn StatusListener) {
	s.listeners.setRead(fn)
}

// OnPresence registers the presence listener.
func (s *Session) OnPresence(fn PresenceListener) {
	s.listeners.setPresence(fn)
}

// OnConnectionState registers the connection-state listener.
func (s *Session) OnConnectionState(fn StateListener) {
	s.listeners.setState(fn)
}

// Roster returns the current roster snapshot.
func (s *Session) Roster() Roster {
	return s.conn.Roster()
}

// Close tears down the streaming connection and the journal. Idempotent.
func (s *Session) Close() error {
	err := s.conn.Close()

	if s.journal != nil {
		if jerr := s.journal.Close(); jerr != nil && err == nil {
			err = jerr
		}
	}
	return err
}
