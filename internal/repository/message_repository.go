package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gopherdm/internal/model"
)

const maxConversationPage = 500

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts message and fills in the server-assigned ID. CreatedAt is
// stamped from the gorm clock unless the caller already set it.
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	message.ID = 0
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

type ConversationPage struct {
	// Limit keeps the newest Limit messages; <= 0 returns the whole history.
	Limit int
	// BeforeID restricts the page to messages with a smaller id.
	BeforeID uint
}

// ListConversation returns the messages exchanged between a and b in
// conversation order (created_at, id ascending).
func (r *MessageRepository) ListConversation(ctx context.Context, a, b uint, page ConversationPage) ([]model.Message, error) {
	q := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Where("sender_id <> receiver_id")
	if page.BeforeID > 0 {
		q = q.Where("id < ?", page.BeforeID)
	}

	var messages []model.Message
	if page.Limit <= 0 {
		if err := q.Order("created_at ASC").Order("id ASC").Find(&messages).Error; err != nil {
			return nil, fmt.Errorf("list conversation failed: %w", err)
		}
		return messages, nil
	}

	limit := page.Limit
	if limit > maxConversationPage {
		limit = maxConversationPage
	}
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list conversation failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
