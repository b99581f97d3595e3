package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go-tracker/logging"
	"go-tracker/models"
	apierrors "go-tracker/utils/errors"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Client talks to the tracker HTTP API. BaseURL includes any API prefix.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type loginResponse struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

type userResponse struct {
	User *models.User `json:"user"`
}

type usersResponse struct {
	Users []models.User `json:"users"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GoogleLogin exchanges a Google ID token for a session token and keeps it
// for subsequent calls.
func (c *Client) GoogleLogin(ctx context.Context, idToken string) (string, models.PublicUser, error) {
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/google-login", map[string]string{"token": idToken}, &out); err != nil {
		return "", models.PublicUser{}, err
	}
	c.SetToken(out.Token)
	return out.Token, out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) UpdateLocation(ctx context.Context, in models.LocationInput) (*models.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodPost, "/users/location", in, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var out usersResponse
	if err := c.do(ctx, http.MethodGet, "/users/all", nil, &out); err != nil {
		return nil, err
	}
	if out.Users == nil {
		out.Users = []models.User{}
	}
	return out.Users, nil
}

// do sends one request. Non-2xx answers come back as *errors.APIError
// carrying the server's code and the HTTP status.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Code == "" {
			e.Code = apierrors.ErrInternal.Code
			e.Message = resp.Status
		}
		return apierrors.NewAPIError(e.Code, e.Message, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscribe opens the realtime channel. The returned channel yields every
// location broadcast and is closed when ctx ends or the connection drops.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.LocationUpdate, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	updates := make(chan models.LocationUpdate, 16)
	readerDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		case <-readerDone:
		}
		conn.Close()
	}()
	go func() {
		defer close(updates)
		defer close(readerDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn().Err(err).Msg("realtime connection closed")
				}
				return
			}
			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != models.EventLocationUpdate {
				continue
			}
			var ev models.LocationUpdate
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			select {
			case updates <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, nil
}
