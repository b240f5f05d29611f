package xmpp

import (
	"encoding/xml"
	"sort"
	"sync"

	"mellium.im/xmpp/stanza"
)

// Contact is one roster entry with its last observed presence.
type Contact struct {
	UserID       int
	Name         string
	Subscription string
	Presence     string
}

// Roster is the set of known contacts returned on successful connection,
// ordered by user id.
type Roster struct {
	Contacts []Contact
}

// rosterQuery is the outbound roster request.
type rosterQuery struct {
	stanza.IQ
	Query rosterItems `xml:"jabber:iq:roster query"`
}

// rosterItems is the roster query payload.
type rosterItems struct {
	Items []rosterItem `xml:"item"`
}

type rosterItem struct {
	JID          string `xml:"jid,attr"`
	Name         string `xml:"name,attr"`
	Subscription string `xml:"subscription,attr"`
}

// inboundIQ mirrors an iq stanza carrying a roster result.
type inboundIQ struct {
	XMLName xml.Name    `xml:"iq"`
	ID      string      `xml:"id,attr"`
	Type    string      `xml:"type,attr"`
	Query   rosterItems `xml:"jabber:iq:roster query"`
}

// rosterState tracks contacts seen on the stream.
type rosterState struct {
	mu       sync.RWMutex
	contacts map[int]Contact
}

func newRosterState() *rosterState {
	return &rosterState{contacts: make(map[int]Contact)}
}

// upsert adds or updates a contact, keeping previously observed presence.
func (r *rosterState) upsert(c Contact) {
	if c.UserID == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.contacts[c.UserID]; ok && c.Presence == "" {
		c.Presence = prev.Presence
	}
	r.contacts[c.UserID] = c
}

// observe records the presence carried by a presence frame.
func (r *rosterState) observe(f Frame) {
	if f.Kind != KindPresence || f.SenderID == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.contacts[f.SenderID]
	c.UserID = f.SenderID
	c.Presence = f.Presence
	r.contacts[f.SenderID] = c
}

// snapshot returns the contacts ordered by user id.
func (r *rosterState) snapshot() Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contacts := make([]Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		contacts = append(contacts, c)
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].UserID < contacts[j].UserID
	})
	return Roster{Contacts: contacts}
}
