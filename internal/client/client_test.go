package client_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherdm/internal/bootstrap"
	"gopherdm/internal/client"
	"gopherdm/internal/client/syncview"
	"gopherdm/internal/config"
	"gopherdm/internal/model"
	httptransport "gopherdm/internal/transport/http"
)

func startServer(t *testing.T) string {
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
	return srv.URL
}

func registered(t *testing.T, baseURL, username string) *client.API {
	t.Helper()
	api := client.NewAPI(baseURL)
	_, err := api.Register(context.Background(), username, "password1")
	require.NoError(t, err)
	return api
}

func TestAPI_RoundTrip(t *testing.T) {
	ctx := context.Background()
	baseURL := startServer(t)
	alice := registered(t, baseURL, "alice")
	bob := registered(t, baseURL, "bob")

	found, err := alice.SearchUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.User().ID, found.ID)

	_, err = alice.SearchUser(ctx, "nobody")
	assert.ErrorIs(t, err, client.ErrNotFound)

	sent, err := alice.Send(ctx, found.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, alice.User().ID, sent.SenderID)

	history, err := bob.History(ctx, alice.User().ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)

	_, err = alice.Send(ctx, 9999, "hi")
	assert.ErrorIs(t, err, client.ErrInvalidInput)

	anonymous := client.NewAPI(baseURL)
	_, err = anonymous.History(ctx, 1)
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestAPI_Login(t *testing.T) {
	ctx := context.Background()
	baseURL := startServer(t)
	registered(t, baseURL, "alice")

	api := client.NewAPI(baseURL)
	user, err := api.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, api.Token())

	_, err = client.NewAPI(baseURL).Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestAPI_StreamURL(t *testing.T) {
	u, err := client.NewAPI("https://dm.example.com/base/").StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://dm.example.com/base/ws", u)

	u, err = client.NewAPI("http://127.0.0.1:8080").StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", u)
}

func TestStream_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	baseURL := startServer(t)
	alice := registered(t, baseURL, "alice")
	bob := registered(t, baseURL, "bob")

	stream, err := client.DialStream(ctx, bob, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	got := make(chan model.Message, 8)
	sub := stream.Subscribe(func(m model.Message) { got <- m })

	first, err := alice.Send(ctx, bob.User().ID, "first")
	require.NoError(t, err)
	second, err := alice.Send(ctx, bob.User().ID, "second")
	require.NoError(t, err)

	for _, want := range []*model.Message{first, second} {
		select {
		case m := <-got:
			assert.Equal(t, want.ID, m.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not delivered", want.ID)
		}
	}

	sub.Cancel()
	_, err = alice.Send(ctx, bob.User().ID, "third")
	require.NoError(t, err)
	select {
	case m := <-got:
		t.Fatalf("cancelled subscription received message %d", m.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStream_CloseIsClean(t *testing.T) {
	baseURL := startServer(t)
	bob := registered(t, baseURL, "bob")

	stream, err := client.DialStream(context.Background(), bob, nil)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	select {
	case <-stream.Done():
	default:
		t.Fatal("stream not done after Close")
	}
	assert.NoError(t, stream.Err())
}

func TestViewOverLiveServer(t *testing.T) {
	ctx := context.Background()
	baseURL := startServer(t)
	alice := registered(t, baseURL, "alice")
	bob := registered(t, baseURL, "bob")
	carol := registered(t, baseURL, "carol")

	_, err := alice.Send(ctx, bob.User().ID, "before open")
	require.NoError(t, err)

	stream, err := client.DialStream(ctx, bob, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	view := syncview.New(bob.User().ID, bob, stream, nil)
	require.NoError(t, view.Open(ctx, alice.User().ID))
	require.Len(t, view.Messages(), 1)

	_, err = carol.Send(ctx, bob.User().ID, "from carol")
	require.NoError(t, err)
	live, err := alice.Send(ctx, bob.User().ID, "live")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(view.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	messages := view.Messages()
	assert.Equal(t, live.ID, messages[1].ID)
	for _, m := range messages {
		assert.NotEqual(t, carol.User().ID, m.SenderID)
	}

	own, err := bob.Send(ctx, alice.User().ID, "reply")
	require.NoError(t, err)
	assert.True(t, view.ApplyOwn(*own))
	assert.Len(t, view.Messages(), 3)
}
