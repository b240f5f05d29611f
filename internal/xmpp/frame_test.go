package xmpp

import (
	"encoding/xml"
	"testing"
)

func TestClassifyChatMessageCarriesExtension(t *testing.T) {
	raw := []byte(`<message xmlns='jabber:client' id='m1' from='101-app42@chat.example.com/mobile' to='202-app42@chat.example.com' type='chat'><extraParams><param1>value1</param1><param2>value2</param2></extraParams></message>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "")
	if f.Kind != KindChat {
		t.Fatalf("expected chat frame, got %s", f.Kind)
	}
	if f.ID != "m1" {
		t.Fatalf("expected id m1, got %q", f.ID)
	}
	if f.SenderID != 101 || f.RecipientID != 202 {
		t.Fatalf("unexpected sender/recipient: %d/%d", f.SenderID, f.RecipientID)
	}
	if f.Extension["param1"] != "value1" || f.Extension["param2"] != "value2" {
		t.Fatalf("unexpected extension: %v", f.Extension)
	}
}

func TestClassifySystemMessage(t *testing.T) {
	raw := []byte(`<message id='s1' from='101-app42@chat.example.com' type='headline'><extraParams><notice>maintenance</notice></extraParams></message>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "")
	if f.Kind != KindSystem {
		t.Fatalf("expected system frame, got %s", f.Kind)
	}
	if f.Extension["notice"] != "maintenance" {
		t.Fatalf("unexpected extension: %v", f.Extension)
	}
}

func TestClassifyReceiptOnlyDoesNotYieldChat(t *testing.T) {
	raw := []byte(`<message id='a1' from='202-app42@chat.example.com' type='chat'><received xmlns='urn:xmpp:receipts' id='msg-123'/><extraParams><dialog_id>507f191e810c19729de860ea</dialog_id></extraParams></message>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "")
	if f.Kind != KindDelivered {
		t.Fatalf("expected delivered frame, got %s", f.Kind)
	}
	if f.MessageID != "msg-123" {
		t.Fatalf("expected correlation id msg-123, got %q", f.MessageID)
	}
	if f.DialogID != "507f191e810c19729de860ea" {
		t.Fatalf("unexpected dialog id %q", f.DialogID)
	}
	if f.SenderID != 202 {
		t.Fatalf("unexpected sender %d", f.SenderID)
	}
}

func TestClassifyReadMarker(t *testing.T) {
	raw := []byte(`<message id='a2' from='202-app42@chat.example.com' type='chat'><displayed xmlns='urn:xmpp:chat-markers:0' id='msg-456'/></message>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "")
	if f.Kind != KindRead {
		t.Fatalf("expected read frame, got %s", f.Kind)
	}
	if f.MessageID != "msg-456" {
		t.Fatalf("expected correlation id msg-456, got %q", f.MessageID)
	}
}

func TestClassifyUnknownDiscriminatorIsDropped(t *testing.T) {
	raw := []byte(`<message id='x1' from='101-app42@chat.example.com' type='error'><body>boom</body></message>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "")
	if f.Kind != KindUnknown {
		t.Fatalf("expected unknown frame, got %s", f.Kind)
	}
}

func TestClassifyRoomMessageResolvesSenderAndDialog(t *testing.T) {
	raw := []byte(`<message id='g1' from='app42_507f191e810c19729de860ea@muc.chat.example.com/101-app42' type='groupchat'><extraParams><param1>value1</param1></extraParams></message>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "muc.chat.example.com")
	if f.Kind != KindChat {
		t.Fatalf("expected chat frame, got %s", f.Kind)
	}
	if f.SenderID != 101 {
		t.Fatalf("expected sender 101 from occupant resource, got %d", f.SenderID)
	}
	if f.DialogID != "507f191e810c19729de860ea" {
		t.Fatalf("expected dialog id from room address, got %q", f.DialogID)
	}
}

func TestClassifyRoomMessageForeignDomain(t *testing.T) {
	raw := []byte(`<message id='g2' from='room@conference.elsewhere.example/101' type='groupchat'/>`)

	var m inboundMessage
	if err := xml.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	f := classifyMessage(m, "muc.chat.example.com")
	if f.SenderID != 0 {
		t.Fatalf("expected unresolved sender for foreign domain, got %d", f.SenderID)
	}
	if f.DialogID != "" {
		t.Fatalf("expected empty dialog id for foreign domain, got %q", f.DialogID)
	}
}

func TestClassifyPresence(t *testing.T) {
	raw := []byte(`<presence from='303-app42@chat.example.com/mobile'><show>away</show></presence>`)

	var p inboundPresence
	if err := xml.Unmarshal(raw, &p); err != nil {
		t.Fatalf("failed to decode presence: %v", err)
	}

	f := classifyPresence(p)
	if f.Kind != KindPresence {
		t.Fatalf("expected presence frame, got %s", f.Kind)
	}
	if f.SenderID != 303 {
		t.Fatalf("unexpected sender %d", f.SenderID)
	}
	if f.Presence != "away" {
		t.Fatalf("expected away, got %q", f.Presence)
	}
}

func TestParseUserID(t *testing.T) {
	cases := []struct {
		addr string
		want int
	}{
		{"101-app42@chat.example.com/mobile", 101},
		{"202-app42@chat.example.com", 202},
		{"chat.example.com", 0},
		{"muc.chat.example.com/room", 0},
	}
	for _, c := range cases {
		if got := parseUserID(c.addr); got != c.want {
			t.Fatalf("parseUserID(%q) = %d, want %d", c.addr, got, c.want)
		}
	}
}

func TestBuildStanzaDeliveredCarriesMark(t *testing.T) {
	to, err := userJID(202, "app42", "chat.example.com")
	if err != nil {
		t.Fatalf("failed to build JID: %v", err)
	}

	st, err := buildStanza(Frame{
		Kind:      KindDelivered,
		ID:        "a1",
		MessageID: "msg-123",
		DialogID:  "dlg-1",
	}, to)
	if err != nil {
		t.Fatalf("buildStanza returned error: %v", err)
	}

	msg, ok := st.(messageStanza)
	if !ok {
		t.Fatalf("expected message stanza, got %T", st)
	}
	if msg.Received == nil || msg.Received.ID != "msg-123" {
		t.Fatalf("expected received mark for msg-123, got %+v", msg.Received)
	}
	if msg.Displayed != nil {
		t.Fatalf("did not expect displayed mark on a delivered frame")
	}
	if msg.Extra == nil || msg.Extra.Params[dialogIDParam] != "dlg-1" {
		t.Fatalf("expected dialog_id param, got %+v", msg.Extra)
	}
}

func TestBuildStanzaRejectsPresence(t *testing.T) {
	to, err := userJID(202, "app42", "chat.example.com")
	if err != nil {
		t.Fatalf("failed to build JID: %v", err)
	}

	if _, err := buildStanza(Frame{Kind: KindPresence}, to); err == nil {
		t.Fatalf("expected error for unsendable frame kind")
	}
}

func TestExtraParamsDecodeFromWire(t *testing.T) {
	raw := []byte(`<extraParams><save_to_history>1</save_to_history><dialog_id>dlg-9</dialog_id></extraParams>`)

	var e extraParams
	if err := xml.Unmarshal(raw, &e); err != nil {
		t.Fatalf("failed to decode extraParams: %v", err)
	}
	if e.Params["save_to_history"] != "1" || e.Params["dialog_id"] != "dlg-9" {
		t.Fatalf("unexpected params: %v", e.Params)
	}
}
