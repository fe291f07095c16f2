package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherdm/internal/model"
)

// HistoryCache keeps full conversation histories in redis. Writers mark a
// conversation dirty before deleting its entry so a reader that raced the
// write does not put a stale list back.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetHistory(ctx context.Context, conv model.Conversation) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, c.historyKey(conv)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, conv model.Conversation, messages []model.Message) error {
	if messages == nil {
		messages = []model.Message{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.historyKey(conv), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Invalidate marks conv dirty and drops its cached history in one round trip.
func (c *HistoryCache) Invalidate(ctx context.Context, conv model.Conversation) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Set(ctx, c.dirtyKey(conv), "1", c.dirtyMarkerTTL)
		pipe.Del(ctx, c.historyKey(conv))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, conv model.Conversation) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(conv)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(conv model.Conversation) string {
	return fmt.Sprintf("dm:history:%d:%d", conv.A, conv.B)
}

func (c *HistoryCache) dirtyKey(conv model.Conversation) string {
	return fmt.Sprintf("dm:history:dirty:%d:%d", conv.A, conv.B)
}
