package xmpp

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// State represents the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDegraded
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when a send is attempted while the stream is
// not ready.
var ErrNotConnected = errors.New("xmpp: not connected")

// ErrTransportDropped reports that an established stream was lost.
var ErrTransportDropped = errors.New("xmpp: transport dropped")

const (
	defaultPort    = 5222
	outboundBuffer = 64
	closeDrain     = 2 * time.Second
)

// Config contains configuration for the connection manager.
type Config struct {
	AppID   string
	Host    string
	Port    int
	MUCHost string
	Logger  zerolog.Logger
}

// Conn owns the persistent streaming session: it authenticates, maintains
// liveness, and exposes send/receive primitives. Inbound frames are decoded
// and dispatched sequentially in arrival order.
type Conn struct {
	mu         sync.RWMutex
	cfg        Config
	state      State
	userID     int
	jid        jid.JID
	session    *xmpp.Session
	netConn    net.Conn
	dec        *xml.Decoder
	out        chan any
	writerDone chan struct{}
	roster     *rosterState
	log        zerolog.Logger

	// gen identifies the current transport; loops from an earlier connect
	// carry a stale gen and must not degrade the replacement.
	gen int

	onFrame func(Frame)
	onState func(State, error)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn creates a new connection manager. The connection starts in the
// Disconnected state.
func NewConn(cfg Config) *Conn {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		cfg:    cfg,
		state:  StateDisconnected,
		roster: newRosterState(),
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetFrameHandler sets the inbound frame handler.
func (c *Conn) SetFrameHandler(handler func(Frame)) {
	c.onFrame = handler
}

// SetStateHandler sets the connection-state handler. It is invoked on
// transitions that happen outside a caller's own call, e.g. a transport drop.
func (c *Conn) SetStateHandler(handler func(State, error)) {
	c.onState = handler
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect establishes the streaming session for the given user and returns
// the roster snapshot. The caller bounds the whole exchange through ctx.
func (c *Conn) Connect(ctx context.Context, userID int, password string) (Roster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReady:
		return c.roster.snapshot(), nil
	case StateClosed:
		return Roster{}, fmt.Errorf("connection closed")
	}
	c.state = StateConnecting

	// Release whatever a dropped stream left behind before re-dialing.
	c.stopWriterLocked()
	c.teardownLocked()

	roster, err := c.connectLocked(ctx, userID, password)
	if err != nil {
		c.state = StateDisconnected
		return Roster{}, err
	}

	c.state = StateReady
	c.log.Info().Int("user_id", userID).Msg("stream ready")
	return roster, nil
}

func (c *Conn) connectLocked(ctx context.Context, userID int, password string) (Roster, error) {
	j, err := userJID(userID, c.cfg.AppID, c.cfg.Host)
	if err != nil {
		return Roster{}, fmt.Errorf("invalid user address: %w", err)
	}

	dialTimeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return Roster{}, fmt.Errorf("failed to dial server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: j.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	session, err := xmpp.NewSession(ctx, j.Domain(), j, conn, 0, negotiator)
	if err != nil {
		conn.Close()
		return Roster{}, fmt.Errorf("failed to negotiate session: %w", err)
	}

	c.session = session
	c.netConn = conn
	c.userID = userID
	c.jid = session.LocalAddr()
	c.dec = xml.NewTokenDecoder(session.TokenReader())
	c.roster = newRosterState()

	if err := session.Encode(ctx, stanza.Presence{}); err != nil {
		c.teardownLocked()
		return Roster{}, fmt.Errorf("failed to announce presence: %w", err)
	}

	pending, err := c.fetchRosterLocked(ctx)
	if err != nil {
		c.teardownLocked()
		return Roster{}, fmt.Errorf("failed to fetch roster: %w", err)
	}

	c.gen++
	gen := c.gen
	c.out = make(chan any, outboundBuffer)
	c.writerDone = make(chan struct{})
	go c.writeLoop(session, gen, c.out, c.writerDone)

	dec := c.dec
	go func() {
		for _, f := range pending {
			c.deliver(f)
		}
		c.readLoop(dec, gen)
	}()

	return c.roster.snapshot(), nil
}

// stopWriterLocked stops the write loop and abandons queued sends. Callers
// hold c.mu.
func (c *Conn) stopWriterLocked() {
	if c.out == nil {
		return
	}
	close(c.out)
	select {
	case <-c.writerDone:
	case <-time.After(closeDrain):
		c.log.Warn().Msg("outbound drain timed out")
	}
	c.out = nil
}

// teardownLocked releases a half-established session after a failure during
// connect. Callers hold c.mu.
func (c *Conn) teardownLocked() {
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	if c.netConn != nil {
		_ = c.netConn.Close()
		c.netConn = nil
	}
	c.dec = nil
	c.userID = 0
}

// fetchRosterLocked requests the roster and reads the stream until the reply
// arrives. Read deadlines come from ctx.
func (c *Conn) fetchRosterLocked(ctx context.Context) ([]Frame, error) {
	queryID := generateID()

	query := rosterQuery{
		IQ: stanza.IQ{ID: queryID, Type: stanza.GetIQ},
	}
	if err := c.session.Encode(ctx, query); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.netConn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.netConn.SetReadDeadline(time.Time{})
	}

	return readRosterExchange(c.dec, queryID, c.roster, c.cfg.MUCHost)
}

// readRosterExchange consumes the stream until the roster reply. Presence
// seen along the way feeds the roster state; message stanzas (offline
// messages flushed by the initial presence) are buffered for dispatch once
// the read loop starts.
func readRosterExchange(dec *xml.Decoder, queryID string, roster *rosterState, mucHost string) ([]Frame, error) {
	var pending []Frame
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "iq":
			var iq inboundIQ
			if err := dec.DecodeElement(&iq, &start); err != nil {
				return nil, err
			}
			if iq.ID != queryID {
				continue
			}
			if iq.Type == "error" {
				return nil, fmt.Errorf("roster query rejected")
			}
			for _, item := range iq.Query.Items {
				roster.upsert(Contact{
					UserID:       parseUserID(item.JID),
					Name:         item.Name,
					Subscription: item.Subscription,
				})
			}
			return pending, nil
		case "message":
			var m inboundMessage
			if err := dec.DecodeElement(&m, &start); err != nil {
				return nil, err
			}
			pending = append(pending, classifyMessage(m, mucHost))
		case "presence":
			var p inboundPresence
			if err := dec.DecodeElement(&p, &start); err != nil {
				return nil, err
			}
			roster.observe(classifyPresence(p))
		default:
			if err := dec.Skip(); err != nil {
				return nil, err
			}
		}
	}
}

// Send pushes an outbound frame onto the stream. It never blocks on
// acknowledgment; a full outbound buffer drops the frame with a warning.
func (c *Conn) Send(f Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateReady {
		return ErrNotConnected
	}

	to, err := userJID(f.RecipientID, c.cfg.AppID, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	st, err := buildStanza(f, to)
	if err != nil {
		return err
	}

	select {
	case c.out <- st:
	default:
		c.log.Warn().Str("frame_id", f.ID).Msg("outbound buffer full, dropping frame")
	}
	return nil
}

func (c *Conn) writeLoop(session *xmpp.Session, gen int, out <-chan any, done chan<- struct{}) {
	defer close(done)
	for st := range out {
		if err := session.Encode(c.ctx, st); err != nil {
			c.log.Error().Err(err).Msg("outbound encode failed")
			c.handleDrop(gen, err)
			return
		}
	}
}

func (c *Conn) readLoop(dec *xml.Decoder, gen int) {
	for {
		tok, err := dec.Token()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "message":
			var m inboundMessage
			if err := dec.DecodeElement(&m, &start); err != nil {
				c.log.Warn().Err(err).Msg("undecodable message stanza, skipping")
				continue
			}
			c.deliver(classifyMessage(m, c.cfg.MUCHost))
		case "presence":
			var p inboundPresence
			if err := dec.DecodeElement(&p, &start); err != nil {
				c.log.Warn().Err(err).Msg("undecodable presence stanza, skipping")
				continue
			}
			f := classifyPresence(p)
			c.roster.observe(f)
			c.deliver(f)
		default:
			if err := dec.Skip(); err != nil {
				c.handleDrop(gen, err)
				return
			}
		}
	}
}

func (c *Conn) deliver(f Frame) {
	if c.onFrame != nil {
		c.onFrame(f)
	}
}

// handleDrop transitions to Degraded after an unexpected transport failure.
// A stale gen means the failing transport was already replaced.
func (c *Conn) handleDrop(gen int, cause error) {
	c.mu.Lock()
	if c.state != StateReady || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateDegraded
	c.mu.Unlock()

	c.log.Error().Err(cause).Msg("stream dropped")
	if c.onState != nil {
		c.onState(StateDegraded, fmt.Errorf("%w: %v", ErrTransportDropped, cause))
	}
}

// Roster returns the current roster snapshot.
func (c *Conn) Roster() Roster {
	return c.roster.snapshot()
}

// UserID returns the authenticated user id, zero before Connect.
func (c *Conn) UserID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Close tears the stream down: it drains in-flight sends best-effort,
// releases the transport, and transitions to Closed. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	wasReady := c.state == StateReady || c.state == StateDegraded
	c.state = StateClosed

	c.stopWriterLocked()

	var firstErr error
	if wasReady && c.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeDrain)
		_ = c.session.Encode(ctx, stanza.Presence{Type: stanza.UnavailablePresence})
		cancel()
	}

	c.cancel()

	if c.session != nil {
		if err := c.session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.session = nil
	}
	if c.netConn != nil {
		if err := c.netConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.netConn = nil
	}

	if c.onState != nil {
		c.onState(StateClosed, nil)
	}

	return firstErr
}

// generateID returns a random stanza id.
func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
