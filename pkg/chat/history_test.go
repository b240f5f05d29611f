package chat

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newHistorySession(t *testing.T, backend *fakeBackend) *Session {
	t.Helper()

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	s, err := New(Config{
		AppID:        "app42",
		AuthKey:      "key",
		AuthSecret:   "secret",
		APIEndpoint:  srv.URL,
		ChatEndpoint: "chat.example.com",
		DataDir:      t.TempDir(),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SignIn(context.Background(), "alice", "password"))
	return s
}

func TestListMessagesForDialog(t *testing.T) {
	backend := newFakeBackend()
	backend.messages["dlg-1"] = []backendMessage{
		{ID: "m1", SenderID: 101, Body: "hello", DateSent: 1700000000},
		{ID: "m2", SenderID: 202, Body: "hi back", DateSent: 1700000060},
	}
	s := newHistorySession(t, backend)

	msgs, err := s.Messages().List(context.Background(), MessageFilter{DialogID: "dlg-1"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "dlg-1", msgs[0].DialogID)
	require.Equal(t, 101, msgs[0].SenderID)
	require.Equal(t, "hello", msgs[0].Body)
	require.Equal(t, int64(1700000000), msgs[0].DateSent.Unix())
}

func TestListMessagesRequiresDialogID(t *testing.T) {
	s := newHistorySession(t, newFakeBackend())

	_, err := s.Messages().List(context.Background(), MessageFilter{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "DialogID", verr.Field)
}

func TestListMessagesEmptyDialogIsNonNil(t *testing.T) {
	s := newHistorySession(t, newFakeBackend())

	msgs, err := s.Messages().List(context.Background(), MessageFilter{DialogID: "dlg-empty"})
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
}

func TestListedMessagesLandInCache(t *testing.T) {
	backend := newFakeBackend()
	backend.messages["dlg-1"] = []backendMessage{
		{ID: "m1", SenderID: 101, Body: "hello", DateSent: 1700000000},
	}
	s := newHistorySession(t, backend)

	_, err := s.Messages().List(context.Background(), MessageFilter{DialogID: "dlg-1"})
	require.NoError(t, err)

	cached, err := s.Messages().CachedHistory("dlg-1", 0)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Equal(t, "hello", cached[0].Body)
}

func TestCachedHistoryWithoutJournal(t *testing.T) {
	s, _ := newBackendSession(t)

	cached, err := s.Messages().CachedHistory("dlg-1", 0)
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Empty(t, cached)
}
