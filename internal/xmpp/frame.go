package xmpp

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// Kind classifies an inbound or outbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindChat
	KindSystem
	KindDelivered
	KindRead
	KindPresence
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSystem:
		return "system"
	case KindDelivered:
		return "delivered"
	case KindRead:
		return "read"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// Frame is one discrete unit of the streaming protocol.
type Frame struct {
	Kind        Kind
	ID          string
	SenderID    int
	RecipientID int

	// Extension is the opaque key/value payload of chat and system frames.
	Extension map[string]string

	// MessageID and DialogID correlate delivered/read frames to a prior send.
	MessageID string
	DialogID  string

	// Presence carries the presence type (or show value) for presence frames.
	Presence string

	Timestamp time.Time
}

const (
	receiptsNS = "urn:xmpp:receipts"
	markersNS  = "urn:xmpp:chat-markers:0"

	dialogIDParam = "dialog_id"
)

// extraParams carries the opaque extension payload as one child element per
// key, encoded in stable key order.
type extraParams struct {
	Params map[string]string
}

func (e *extraParams) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "extraParams"}
	start.Attr = nil
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		el := xml.StartElement{Name: xml.Name{Local: k}}
		if err := enc.EncodeElement(e.Params[k], el); err != nil {
			return err
		}
	}

	return enc.EncodeToken(start.End())
}

func (e *extraParams) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	e.Params = make(map[string]string)
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := dec.DecodeElement(&v, &t); err != nil {
				return err
			}
			e.Params[t.Name.Local] = v
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

// receiptMark is the delivered/read acknowledgment element.
type receiptMark struct {
	ID string `xml:"id,attr"`
}

// messageStanza is the outbound message wire form.
type messageStanza struct {
	stanza.Message
	Extra     *extraParams `xml:"extraParams,omitempty"`
	Received  *receiptMark `xml:"urn:xmpp:receipts received,omitempty"`
	Displayed *receiptMark `xml:"urn:xmpp:chat-markers:0 displayed,omitempty"`
}

// inboundMessage mirrors messageStanza for decoding.
type inboundMessage struct {
	XMLName   xml.Name     `xml:"message"`
	ID        string       `xml:"id,attr"`
	From      string       `xml:"from,attr"`
	To        string       `xml:"to,attr"`
	Type      string       `xml:"type,attr"`
	Extra     *extraParams `xml:"extraParams"`
	Received  *receiptMark `xml:"urn:xmpp:receipts received"`
	Displayed *receiptMark `xml:"urn:xmpp:chat-markers:0 displayed"`
}

// inboundPresence mirrors a presence stanza for decoding.
type inboundPresence struct {
	XMLName xml.Name `xml:"presence"`
	From    string   `xml:"from,attr"`
	Type    string   `xml:"type,attr"`
	Show    string   `xml:"show"`
}

// userJID builds the platform JID for a user on the given chat domain.
func userJID(userID int, appID, domain string) (jid.JID, error) {
	return jid.Parse(fmt.Sprintf("%d-%s@%s", userID, appID, domain))
}

// parseUserID extracts the numeric user id from a platform JID. The local
// part has the form "<userID>-<appID>"; a zero result means the sender was
// not a platform user (e.g. a bare server JID).
func parseUserID(addr string) int {
	local := addr
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	if i := strings.IndexByte(local, '-'); i >= 0 {
		local = local[:i]
	}
	id, err := strconv.Atoi(local)
	if err != nil {
		return 0
	}
	return id
}

// parseMUCSender extracts the user id from a room occupant address of the
// form "<room>@<mucHost>/<userID>".
func parseMUCSender(addr, mucHost string) int {
	slash := strings.IndexByte(addr, '/')
	if slash < 0 {
		return 0
	}
	bare := addr[:slash]
	at := strings.IndexByte(bare, '@')
	if at < 0 || bare[at+1:] != mucHost {
		return 0
	}
	return parseUserID(addr[slash+1:])
}

// mucRoomDialog extracts the dialog id from a room address whose local part
// has the form "<appID>_<dialogID>".
func mucRoomDialog(addr, mucHost string) string {
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	domain := addr[at+1:]
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	if domain != mucHost {
		return ""
	}
	local := addr[:at]
	if i := strings.IndexByte(local, '_'); i >= 0 {
		return local[i+1:]
	}
	return ""
}

// buildStanza converts an outbound frame into its wire form.
func buildStanza(f Frame, to jid.JID) (any, error) {
	switch f.Kind {
	case KindChat, KindSystem:
		typ := stanza.ChatMessage
		if f.Kind == KindSystem {
			typ = stanza.HeadlineMessage
		}
		st := messageStanza{
			Message: stanza.Message{
				ID:   f.ID,
				To:   to,
				Type: typ,
			},
		}
		if len(f.Extension) > 0 {
			st.Extra = &extraParams{Params: f.Extension}
		}
		return st, nil
	case KindDelivered, KindRead:
		st := messageStanza{
			Message: stanza.Message{
				ID:   f.ID,
				To:   to,
				Type: stanza.ChatMessage,
			},
		}
		mark := &receiptMark{ID: f.MessageID}
		if f.Kind == KindDelivered {
			st.Received = mark
		} else {
			st.Displayed = mark
		}
		if f.DialogID != "" {
			st.Extra = &extraParams{Params: map[string]string{dialogIDParam: f.DialogID}}
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsendable frame kind %q", f.Kind)
	}
}

// classifyMessage converts a decoded message stanza into exactly one frame.
// Room traffic carries the sender in the occupant resource and the dialog in
// the room address, so mucHost resolves both when direct parsing yields
// nothing.
func classifyMessage(m inboundMessage, mucHost string) Frame {
	f := Frame{
		ID:          m.ID,
		SenderID:    parseUserID(m.From),
		RecipientID: parseUserID(m.To),
		Timestamp:   time.Now(),
	}

	if m.Extra != nil {
		f.DialogID = m.Extra.Params[dialogIDParam]
	}
	if f.SenderID == 0 && mucHost != "" {
		f.SenderID = parseMUCSender(m.From, mucHost)
		if f.DialogID == "" {
			f.DialogID = mucRoomDialog(m.From, mucHost)
		}
	}

	switch {
	case m.Received != nil:
		f.Kind = KindDelivered
		f.MessageID = m.Received.ID
	case m.Displayed != nil:
		f.Kind = KindRead
		f.MessageID = m.Displayed.ID
	case m.Type == "chat" || m.Type == "groupchat":
		f.Kind = KindChat
	case m.Type == "headline":
		f.Kind = KindSystem
	default:
		f.Kind = KindUnknown
	}

	if f.Kind == KindChat || f.Kind == KindSystem {
		if m.Extra != nil {
			f.Extension = m.Extra.Params
		} else {
			f.Extension = map[string]string{}
		}
	}

	return f
}

// classifyPresence converts a decoded presence stanza into a presence frame.
func classifyPresence(p inboundPresence) Frame {
	show := p.Type
	if show == "" {
		show = p.Show
	}
	if show == "" {
		show = "available"
	}
	return Frame{
		Kind:      KindPresence,
		SenderID:  parseUserID(p.From),
		Presence:  show,
		Timestamp: time.Now(),
	}
}
