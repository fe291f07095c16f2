package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherdm/internal/cache"
	"gopherdm/internal/model"
)

func TestHistoryService_EmptyForUnknownOrSelfPeer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewHistoryService(f.messages, nil, nil)

	for _, peer := range []uint{0, 9999, f.alice.ID} {
		got, err := svc.Conversation(ctx, f.alice.ID, peer, HistoryQuery{})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}

	_, err := svc.Conversation(ctx, 0, f.bob.ID, HistoryQuery{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHistoryService_ExcludesOtherConversations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	writer := newMessageService(f, nil, nil)

	_, err := writer.Submit(ctx, SubmitInput{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "to bob"})
	require.NoError(t, err)
	_, err = writer.Submit(ctx, SubmitInput{SenderID: f.alice.ID, ReceiverID: f.carol.ID, Content: "to carol"})
	require.NoError(t, err)
	_, err = writer.Submit(ctx, SubmitInput{SenderID: f.bob.ID, ReceiverID: f.carol.ID, Content: "bob to carol"})
	require.NoError(t, err)

	got, err := NewHistoryService(f.messages, nil, nil).Conversation(ctx, f.carol.ID, f.alice.ID, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "to carol", got[0].Content)
}

func TestHistoryService_PagesAreOldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	writer := newMessageService(f, nil, nil)

	var sent []model.Message
	for _, body := range []string{"one", "two", "three", "four"} {
		msg, err := writer.Submit(ctx, SubmitInput{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: body})
		require.NoError(t, err)
		sent = append(sent, *msg)
	}

	svc := NewHistoryService(f.messages, nil, nil)
	latest, err := svc.Conversation(ctx, f.bob.ID, f.alice.ID, HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "three", latest[0].Content)
	assert.Equal(t, "four", latest[1].Content)

	older, err := svc.Conversation(ctx, f.bob.ID, f.alice.ID, HistoryQuery{Limit: 2, BeforeID: sent[2].ID})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "one", older[0].Content)
	assert.Equal(t, "two", older[1].Content)
}

func TestHistoryService_ServesFromCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	hc := cache.NewHistoryCache(client, time.Minute, 5*time.Second)
	svc := NewHistoryService(f.messages, hc, nil)
	conv := model.NewConversation(f.alice.ID, f.bob.ID)

	stale := []model.Message{{ID: 42, SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "cached"}}
	require.NoError(t, hc.SetHistory(ctx, conv, stale))

	got, err := svc.Conversation(ctx, f.bob.ID, f.alice.ID, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cached", got[0].Content)

	require.NoError(t, hc.Invalidate(ctx, conv))
	got, err = svc.Conversation(ctx, f.bob.ID, f.alice.ID, HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, hit, err := hc.GetHistory(ctx, conv)
	require.NoError(t, err)
	assert.False(t, hit, "dirty conversation is not re-cached")
}

func TestHistoryService_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	hc := cache.NewHistoryCache(client, time.Minute, 5*time.Second)

	writer := newMessageService(f, nil, hc)
	msg, err := writer.Submit(ctx, SubmitInput{SenderID: f.alice.ID, ReceiverID: f.bob.ID, Content: "hi"})
	require.NoError(t, err)

	mr.Close()
	got, err := NewHistoryService(f.messages, hc, nil).Conversation(ctx, f.alice.ID, f.bob.ID, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
}
