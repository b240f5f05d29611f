package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:    baseURL,
		AppID:      "app42",
		AuthKey:    "key",
		AuthSecret: "secret",
		Logger:     zerolog.Nop(),
	})
}

func TestCreateSessionSignsRequest(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session.json" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"session": map[string]any{"token": "tok-abc", "user_id": 101},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	session, err := c.CreateSession(context.Background(), "alice", "password")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if session.UserID != 101 {
		t.Fatalf("expected user 101, got %d", session.UserID)
	}
	if c.Token() != "tok-abc" {
		t.Fatalf("expected stored token, got %q", c.Token())
	}

	for _, k := range []string{"application_id", "auth_key", "nonce", "timestamp", "user[login]", "signature"} {
		if gotBody[k] == "" {
			t.Fatalf("missing %s in request body", k)
		}
	}

	// Recompute the signature over the sorted parameter set.
	keys := make([]string, 0, len(gotBody))
	for k := range gotBody {
		if k != "signature" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+gotBody[k])
	}
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte(strings.Join(pairs, "&")))
	want := hex.EncodeToString(mac.Sum(nil))

	if gotBody["signature"] != want {
		t.Fatalf("signature mismatch: got %q, want %q", gotBody["signature"], want)
	}
}

func TestTokenHeaderAttachedAfterSession(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session.json":
			json.NewEncoder(w).Encode(map[string]any{
				"session": map[string]any{"token": "tok-abc", "user_id": 101},
			})
		case "/chat/Dialog.json":
			gotToken = r.Header.Get("CK-Token")
			json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.CreateSession(context.Background(), "alice", "password"); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if _, err := c.ListDialogs(context.Background(), nil); err != nil {
		t.Fatalf("ListDialogs returned error: %v", err)
	}
	if gotToken != "tok-abc" {
		t.Fatalf("expected token header, got %q", gotToken)
	}
}

func TestDestroySessionClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{
				"session": map[string]any{"token": "tok-abc"},
			})
		case http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.CreateSession(context.Background(), "alice", "password"); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if err := c.DestroySession(context.Background()); err != nil {
		t.Fatalf("DestroySession returned error: %v", err)
	}
	if c.Token() != "" {
		t.Fatalf("expected cleared token, got %q", c.Token())
	}
}

func TestErrorDecodeList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"errors": []string{"Not found"}})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ListDialogs(context.Background(), nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Not found" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestErrorDecodeFieldMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": map[string][]string{
				"name":          {"is too long"},
				"occupants_ids": {"must not be empty"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.CreateDialog(context.Background(), CreateDialogParams{Type: 2})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "name is too long; occupants_ids must not be empty" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestUpdateDialogEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(map[string]any{"_id": "a/b"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.UpdateDialog(context.Background(), "a/b", UpdateDialogParams{Name: "x"}); err != nil {
		t.Fatalf("UpdateDialog returned error: %v", err)
	}
	if gotPath != "/chat/Dialog/a%2Fb.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}
