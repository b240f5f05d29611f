package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const tokenHeader = "CK-Token"

// Config contains configuration for the REST client.
type Config struct {
	BaseURL    string
	AppID      string
	AuthKey    string
	AuthSecret string
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Client is the request/response collaborator: session auth, dialog CRUD and
// message listing. Calls are independent; each honors its own context.
type Client struct {
	baseURL    string
	appID      string
	authKey    string
	authSecret string
	http       *http.Client
	log        zerolog.Logger

	mu    sync.RWMutex
	token string
}

// APIError is a machine-readable error returned by the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new REST client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:      cfg.AppID,
		authKey:    cfg.AuthKey,
		authSecret: cfg.AuthSecret,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        cfg.Logger,
	}
}

// Session is the authenticated REST session.
type Session struct {
	Token         string `json:"token"`
	ApplicationID string `json:"application_id"`
	UserID        int    `json:"user_id"`
}

// Token returns the current session token, empty before CreateSession.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateSession authenticates the user and stores the session token for
// subsequent calls. The request is signed with HMAC-SHA1 over the sorted
// parameter set, keyed by the application secret.
func (c *Client) CreateSession(ctx context.Context, login, password string) (*Session, error) {
	params := map[string]string{
		"application_id": c.appID,
		"auth_key":       c.authKey,
		"nonce":          uuid.NewString(),
		"timestamp":      fmt.Sprintf("%d", time.Now().Unix()),
		"user[login]":    login,
		"user[password]": password,
	}
	params["signature"] = c.sign(params)

	var out struct {
		Session Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/session.json", nil, params, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = out.Session.Token
	c.mu.Unlock()

	c.log.Debug().Int("user_id", out.Session.UserID).Msg("rest session created")
	return &out.Session, nil
}

// DestroySession invalidates the current session token.
func (c *Client) DestroySession(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/session.json", nil, nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

// sign computes the auth signature over the sorted parameter set.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha1.New, []byte(c.authSecret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// do performs one request/response exchange. Query parameters go into the
// URL, body is JSON-encoded, and non-2xx responses decode into an APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError extracts the machine-readable error from a failed response.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Errors) > 0 {
		apiErr.Message = flattenErrors(payload.Errors)
	}
	return apiErr
}

// flattenErrors renders the vendor's errors field, which may be a list or an
// object of field lists, as a single human-readable message.
func flattenErrors(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}

	var fields map[string][]string
	if err := json.Unmarshal(raw, &fields); err == nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" "+strings.Join(fields[k], ", "))
		}
		return strings.Join(parts, "; ")
	}

	return string(raw)
}
