package chat

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/meszmate/chatkit/internal/rest"
	"github.com/meszmate/chatkit/internal/store"
)

// HistoryMessage is one stored chat message from a listing.
type HistoryMessage struct {
	ID       string
	DialogID string
	SenderID int
	Body     string
	DateSent time.Time
}

// MessageFilter narrows a message listing to one dialog.
type MessageFilter struct {
	DialogID string `validate:"required"`
	Limit    int
	Skip     int
}

// MessageService lists stored message history over REST and keeps a local
// cache of the results.
type MessageService struct {
	rest    *rest.Client
	journal *store.Journal
	log     zerolog.Logger
}

// List returns stored messages for a dialog, oldest first. The result is
// non-nil even when the dialog has no messages.
func (m *MessageService) List(ctx context.Context, filter MessageFilter) ([]HistoryMessage, error) {
	if err := validate.Struct(filter); err != nil {
		return nil, asValidationError(err)
	}

	query := url.Values{}
	query.Set("chat_dialog_id", filter.DialogID)
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Skip > 0 {
		query.Set("skip", strconv.Itoa(filter.Skip))
	}

	page, err := m.rest.ListMessages(ctx, query)
	if err != nil {
		return nil, mapRESTError(err)
	}

	msgs := make([]HistoryMessage, 0, len(page.Items))
	for _, item := range page.Items {
		msgs = append(msgs, HistoryMessage{
			ID:       item.ID,
			DialogID: item.ChatDialogID,
			SenderID: item.SenderID,
			Body:     item.Body,
			DateSent: time.Unix(item.DateSent, 0),
		})
	}

	m.cache(msgs)
	return msgs, nil
}

// CachedHistory returns locally cached history for a dialog, oldest first.
func (m *MessageService) CachedHistory(dialogID string, limit int) ([]HistoryMessage, error) {
	if m.journal == nil {
		return []HistoryMessage{}, nil
	}

	cached, err := m.journal.CachedHistory(dialogID, limit)
	if err != nil {
		return nil, err
	}

	msgs := make([]HistoryMessage, 0, len(cached))
	for _, c := range cached {
		msgs = append(msgs, HistoryMessage{
			ID:       c.ID,
			DialogID: c.DialogID,
			SenderID: c.SenderID,
			Body:     c.Body,
			DateSent: c.DateSent,
		})
	}
	return msgs, nil
}

func (m *MessageService) cache(msgs []HistoryMessage) {
	if m.journal == nil || len(msgs) == 0 {
		return
	}

	cached := make([]store.CachedMessage, 0, len(msgs))
	for _, msg := range msgs {
		cached = append(cached, store.CachedMessage{
			ID:       msg.ID,
			DialogID: msg.DialogID,
			SenderID: msg.SenderID,
			Body:     msg.Body,
			DateSent: msg.DateSent,
		})
	}
	if err := m.journal.CacheMessages(cached); err != nil {
		m.log.Warn().Err(err).Msg("failed to cache message history")
	}
}
