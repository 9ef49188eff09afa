package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"chatline/app/internal/models"
)

// TokenSource supplies the current bearer credential. The transport
// attaches it to every request but does not manage its lifecycle.
type TokenSource func() string

// SendPayload is the body of an outgoing message. At least one of the
// fields must be non-empty for the payload to be worth submitting.
type SendPayload struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Empty reports whether the payload carries nothing.
func (p SendPayload) Empty() bool { return p.Text == "" && p.Image == "" }

// Client translates conversation intents into backend HTTP calls.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	log     *zap.SugaredLogger
}

// NewClient builds a transport against baseURL. token may return ""
// for the unauthenticated calls (register, login).
func NewClient(baseURL string, token TokenSource, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		token:   token,
		log:     log,
	}
}

type authResponse struct {
	User        models.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}

// Register creates an account and returns the user plus a bearer token.
func (c *Client) Register(ctx context.Context, fullName, email, password string) (models.User, string, error) {
	body := map[string]string{"fullName": fullName, "email": email, "password": password}
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", body, &resp); err != nil {
		return models.User{}, "", err
	}
	return resp.User, resp.AccessToken, nil
}

// Login authenticates and returns the user plus a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, string, error) {
	body := map[string]string{"email": email, "password": password}
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return models.User{}, "", err
	}
	return resp.User, resp.AccessToken, nil
}

// Logout invalidates the current token server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// FetchFriends returns the caller's friends, the peer list of the UI.
func (c *Client) FetchFriends(ctx context.Context) ([]models.User, error) {
	var friends []models.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/user/friends", nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// FetchHistory returns the full conversation with peerID, oldest first.
// On failure the caller must not assume partial results.
func (c *Client) FetchHistory(ctx context.Context, peerID string) ([]models.Message, error) {
	if peerID == "" {
		return nil, ErrEmptyPeerID
	}
	var history []models.Message
	path := "/api/messages/" + url.PathEscape(peerID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// Submit persists a new message to peerID and returns the
// server-confirmed record. It knows nothing about optimistic state;
// rollback on failure is the caller's job.
func (c *Client) Submit(ctx context.Context, peerID string, payload SendPayload) (models.Message, error) {
	if peerID == "" {
		return models.Message{}, ErrEmptyPeerID
	}
	var msg models.Message
	path := "/api/messages/" + url.PathEscape(peerID)
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &NetworkError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return &NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)}
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	return nil
}
