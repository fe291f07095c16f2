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
	"strconv"
	"strings"
	"sync"
	"time"

	"gopherdm/internal/model"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("server unavailable")
)

// APIError is a non-2xx reply. It matches the sentinel for its status code
// under errors.Is.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// API talks to the REST endpoints on behalf of one user.
type API struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
	user  model.User
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (a *API) WithHTTPClient(c *http.Client) *API {
	a.httpClient = c
	return a
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// User is the identity the current token belongs to.
func (a *API) User() model.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

func (a *API) Register(ctx context.Context, username, password string) (*model.User, error) {
	return a.authenticate(ctx, "/api/auth/register", username, password)
}

func (a *API) Login(ctx context.Context, username, password string) (*model.User, error) {
	return a.authenticate(ctx, "/api/auth/login", username, password)
}

func (a *API) authenticate(ctx context.Context, path, username, password string) (*model.User, error) {
	var envelope struct {
		Data struct {
			Token string     `json:"token"`
			User  model.User `json:"user"`
		} `json:"data"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, path, body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data.Token == "" {
		return nil, fmt.Errorf("auth response carried no token")
	}

	a.mu.Lock()
	a.token = envelope.Data.Token
	a.user = envelope.Data.User
	a.mu.Unlock()

	user := envelope.Data.User
	return &user, nil
}

func (a *API) SearchUser(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := a.do(ctx, http.MethodGet, "/api/users/search/"+url.PathEscape(username), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// History fetches the whole conversation with peer, oldest first.
func (a *API) History(ctx context.Context, peer uint) ([]model.Message, error) {
	var messages []model.Message
	path := "/api/conversation/" + strconv.FormatUint(uint64(peer), 10)
	if err := a.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (a *API) Send(ctx context.Context, receiverID uint, content string) (*model.Message, error) {
	var msg model.Message
	body := map[string]any{"receiverId": receiverID, "content": content}
	if err := a.do(ctx, http.MethodPost, "/api/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// StreamURL is the websocket endpoint for this server.
func (a *API) StreamURL() (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url failed: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (a *API) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Message
		} else {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
