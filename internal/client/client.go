// Package client - HTTP и WebSocket клиент API сообщений для coachctl
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coachapp/models"

	"github.com/gorilla/websocket"
)

const defaultTimeout = 10 * time.Second

// APIError - ответ сервера с ошибкой
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("unexpected status %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type Session struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type SendRequest struct {
	Content           string `json:"content"`
	RelatedEntityType string `json:"related_entity_type,omitempty"`
	RelatedEntityID   string `json:"related_entity_id,omitempty"`
}

// Event - кадр WebSocket: conversations, thread, message или error
type Event struct {
	Event         string                       `json:"event"`
	Conversations []models.ConversationPartner `json:"conversations,omitempty"`
	Messages      []models.Message             `json:"messages,omitempty"`
	Message       *models.Message              `json:"message,omitempty"`
	Kind          string                       `json:"kind,omitempty"`
	Error         string                       `json:"error,omitempty"`
}

func (c *Client) Register(ctx context.Context, nickname, password, displayName string, role models.Role) (*models.Profile, error) {
	req := map[string]string{
		"nickname":     nickname,
		"password":     password,
		"display_name": displayName,
		"role":         string(role),
	}
	var resp struct {
		Profile models.Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	return &resp.Profile, nil
}

// Login возвращает сессию и запоминает токен в клиенте
func (c *Client) Login(ctx context.Context, nickname, password string) (*Session, error) {
	req := map[string]string{"nickname": nickname, "password": password}
	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", req, &session); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	c.Token = session.Token
	return &session, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

func (c *Client) Profile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(id), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) Conversations(ctx context.Context) ([]models.ConversationPartner, error) {
	var resp struct {
		Conversations []models.ConversationPartner `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Messages открывает переписку; сервер помечает входящие прочитанными
func (c *Client) Messages(ctx context.Context, partnerID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(partnerID, "messages"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Send(ctx context.Context, partnerID string, req SendRequest) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, conversationPath(partnerID, "messages"), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, partnerID string) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, conversationPath(partnerID, "read"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// Watch подписывается на живой список диалогов (partnerID пустой) или на
// переписку и вызывает handle для каждого кадра до отмены ctx или закрытия соединения
func (c *Client) Watch(ctx context.Context, partnerID string, handle func(Event)) error {
	path := "/api/v1/ws/conversations"
	if partnerID != "" {
		path += "/" + url.PathEscape(partnerID)
	}
	wsURL, err := c.wsURL(path)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read event: %w", err)
		}
		handle(event)
	}
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func conversationPath(partnerID, action string) string {
	return "/api/v1/conversations/" + url.PathEscape(partnerID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IsStatus - ответил ли сервер указанным статусом
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
