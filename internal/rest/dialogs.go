package rest

import (
	"context"
	"net/http"
	"net/url"
)

// Dialog is the wire representation of a dialog resource.
type Dialog struct {
	ID           string `json:"_id"`
	Type         int    `json:"type"`
	Name         string `json:"name"`
	OccupantsIDs []int  `json:"occupants_ids"`
	XMPPRoomJID  string `json:"xmpp_room_jid"`
	UserID       int    `json:"user_id"`
	LastMessage  string `json:"last_message"`
	UnreadCount  int    `json:"unread_messages_count"`
}

// DialogPage is one page of dialog listing results.
type DialogPage struct {
	Items        []Dialog `json:"items"`
	Skip         int      `json:"skip"`
	Limit        int      `json:"limit"`
	TotalEntries int      `json:"total_entries"`
}

// CreateDialogParams is the dialog creation request body.
type CreateDialogParams struct {
	Type         int    `json:"type"`
	Name         string `json:"name,omitempty"`
	OccupantsIDs []int  `json:"occupants_ids"`
}

// OccupantsPatch names occupant ids added or removed by an update.
type OccupantsPatch struct {
	OccupantsIDs []int `json:"occupants_ids"`
}

// UpdateDialogParams is the partial-update request body. PushAll is applied
// by the server before PullAll.
type UpdateDialogParams struct {
	Name    string          `json:"name,omitempty"`
	PushAll *OccupantsPatch `json:"push_all,omitempty"`
	PullAll *OccupantsPatch `json:"pull_all,omitempty"`
}

// Message is the wire representation of a stored chat message.
type Message struct {
	ID           string `json:"_id"`
	ChatDialogID string `json:"chat_dialog_id"`
	SenderID     int    `json:"sender_id"`
	RecipientID  int    `json:"recipient_id"`
	Body         string `json:"message"`
	DateSent     int64  `json:"date_sent"`
	Delivered    []int  `json:"delivered_ids"`
	Read         []int  `json:"read_ids"`
}

// MessagePage is one page of message listing results.
type MessagePage struct {
	Items []Message `json:"items"`
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
}

// CreateDialog creates a dialog resource; the server assigns id and room
// address.
func (c *Client) CreateDialog(ctx context.Context, params CreateDialogParams) (*Dialog, error) {
	var out Dialog
	if err := c.do(ctx, http.MethodPost, "/chat/Dialog.json", nil, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDialogs returns the dialogs visible to the caller matching the given
// query filters. Ordering and pagination are server-defined.
func (c *Client) ListDialogs(ctx context.Context, filters url.Values) (*DialogPage, error) {
	var out DialogPage
	if err := c.do(ctx, http.MethodGet, "/chat/Dialog.json", filters, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDialog applies a partial update to a dialog.
func (c *Client) UpdateDialog(ctx context.Context, id string, params UpdateDialogParams) (*Dialog, error) {
	var out Dialog
	if err := c.do(ctx, http.MethodPut, "/chat/Dialog/"+url.PathEscape(id)+".json", nil, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDialog removes a dialog.
func (c *Client) DeleteDialog(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/chat/Dialog/"+url.PathEscape(id)+".json", nil, nil, nil)
}

// ListMessages returns stored messages matching the given query filters.
func (c *Client) ListMessages(ctx context.Context, filters url.Values) (*MessagePage, error) {
	var out MessagePage
	if err := c.do(ctx, http.MethodGet, "/chat/Message.json", filters, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
