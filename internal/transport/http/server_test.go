package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherdm/internal/bootstrap"
	"gopherdm/internal/config"
	"gopherdm/internal/model"
	"gopherdm/internal/realtime"
	httptransport "gopherdm/internal/transport/http"
)

type testServer struct {
	*httptest.Server
	app *bootstrap.App
}

type account struct {
	token string
	user  model.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "file::memory:")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("GIN_MODE", "test")

	cfg, err := config.Load()
	require.NoError(t, err)
	a, err := bootstrap.NewWithConfig(context.Background(), cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(httptransport.NewRouter(a))
	t.Cleanup(func() {
		a.Hub.Close()
		srv.Close()
		_ = a.Close()
	})
	return &testServer{Server: srv, app: a}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *testServer) register(t *testing.T, username string) account {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "password1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Code int `json:"code"`
		Data struct {
			Token string     `json:"token"`
			User  model.User `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotEmpty(t, envelope.Data.Token)
	return account{token: envelope.Data.Token, user: envelope.Data.User}
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) (realtime.Event, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	var ev realtime.Event
	err := conn.ReadJSON(&ev)
	return ev, err
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "password1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/auth/me", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.NotContains(t, data, "passwordHash")
}

func TestUserSearch(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	resp := s.do(t, http.MethodGet, "/api/users/search/bob", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[model.User](t, resp)
	assert.Equal(t, bob.user.ID, found.ID)
	assert.Equal(t, "bob", found.Username)

	resp = s.do(t, http.MethodGet, "/api/users/search/bo", alice.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/users/search/bob", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/users/search/bob", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestComposeAndHistory(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	resp := s.do(t, http.MethodPost, "/api/messages", alice.token, map[string]any{
		"receiverId": bob.user.ID,
		"content":    "hi",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[model.Message](t, resp)
	assert.NotZero(t, sent.ID)
	assert.Equal(t, alice.user.ID, sent.SenderID)
	assert.Equal(t, bob.user.ID, sent.ReceiverID)
	assert.Equal(t, "hi", sent.Content)

	for _, path := range []string{
		fmt.Sprintf("/api/conversation/%d", alice.user.ID),
		fmt.Sprintf("/api/messages/%d", alice.user.ID),
	} {
		resp = s.do(t, http.MethodGet, path, bob.token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		history := decode[[]model.Message](t, resp)
		require.Len(t, history, 1, path)
		assert.Equal(t, sent.ID, history[0].ID)
		assert.True(t, sent.CreatedAt.Equal(history[0].CreatedAt))
	}
}

func TestComposeValidation(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	cases := map[string]any{
		"unknown receiver":     map[string]any{"receiverId": 9999, "content": "hi"},
		"missing receiver":     map[string]any{"content": "hi"},
		"non-numeric receiver": map[string]any{"receiverId": "bob", "content": "hi"},
		"fractional receiver":  map[string]any{"receiverId": 2.5, "content": "hi"},
		"empty content":        map[string]any{"receiverId": bob.user.ID, "content": "   "},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/messages", alice.token, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp := s.do(t, http.MethodPost, "/api/messages", "", map[string]any{"receiverId": bob.user.ID, "content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var count int64
	require.NoError(t, s.app.DB.Model(&model.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHistoryEdgeCases(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	resp := s.do(t, http.MethodGet, "/api/conversation/9999", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]model.Message](t, resp))

	resp = s.do(t, http.MethodGet, "/api/conversation/bob", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/conversation/1?limit=-1", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/conversation/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHistoryPagination(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	var ids []uint
	for i := 0; i < 3; i++ {
		resp := s.do(t, http.MethodPost, "/api/messages", alice.token, map[string]any{
			"receiverId": bob.user.ID,
			"content":    fmt.Sprintf("m%d", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, decode[model.Message](t, resp).ID)
	}

	resp := s.do(t, http.MethodGet, fmt.Sprintf("/api/conversation/%d?limit=2&before=%d", bob.user.ID, ids[2]), alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[[]model.Message](t, resp)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)
}

func TestRealtimeDelivery(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")
	carol := s.register(t, "carol")

	bobConn := s.dial(t, bob.token)
	require.NoError(t, bobConn.WriteJSON(realtime.Event{Type: realtime.EventJoin, UserID: bob.user.ID}))
	joined, err := readEvent(t, bobConn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, realtime.EventJoined, joined.Type)

	carolConn := s.dial(t, carol.token)
	require.NoError(t, carolConn.WriteJSON(realtime.Event{Type: realtime.EventJoin}))
	_, err = readEvent(t, carolConn, 2*time.Second)
	require.NoError(t, err)

	var sent []model.Message
	for _, body := range []string{"first", "second"} {
		resp := s.do(t, http.MethodPost, "/api/messages", alice.token, map[string]any{
			"receiverId": bob.user.ID,
			"content":    body,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		sent = append(sent, decode[model.Message](t, resp))
	}

	for _, want := range sent {
		ev, err := readEvent(t, bobConn, 2*time.Second)
		require.NoError(t, err)
		require.Equal(t, realtime.EventMessage, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, want.ID, ev.Message.ID)
		assert.Equal(t, want.Content, ev.Message.Content)
	}

	_, err = readEvent(t, carolConn, 200*time.Millisecond)
	assert.Error(t, err, "carol is not part of the conversation")
}

func TestRealtimeRefusesForeignJoin(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	conn := s.dial(t, alice.token)
	require.NoError(t, conn.WriteJSON(realtime.Event{Type: realtime.EventJoin, UserID: bob.user.ID}))
	ev, err := readEvent(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, realtime.EventError, ev.Type)
	assert.Zero(t, s.app.Hub.Members(bob.user.ID))
}

func TestRealtimeRequiresToken(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, true, deps["database"].(map[string]any)["ok"])
	assert.Equal(t, true, deps["redis"].(map[string]any)["disabled"])
}
