package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gopherdm/internal/model"
	"gopherdm/internal/pkg/content"
	"gopherdm/internal/pkg/logger"
	"gopherdm/internal/repository"
)

// Publisher delivers a persisted message to the live connections of one
// user. Implementations are best effort; MessageService logs failures and
// never undoes the write because of them.
type Publisher interface {
	Publish(ctx context.Context, roomUserID uint, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, conv model.Conversation) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conv model.Conversation, messages []model.Message) error
	Invalidate(ctx context.Context, conv model.Conversation) error
	IsDirty(ctx context.Context, conv model.Conversation) (bool, error)
}

type SubmitInput struct {
	// SenderID is the authenticated caller, never a client-supplied value.
	SenderID   uint
	ReceiverID uint
	Content    string
}

// MessageService is the only writer of messages.
type MessageService struct {
	userRepo     *repository.UserRepository
	messageRepo  *repository.MessageRepository
	publisher    Publisher
	historyCache HistoryCache
	limits       content.Limits
	log          *zap.Logger
	now          func() time.Time

	// mu orders persist+publish so id order, created_at order and room
	// publish order all agree.
	mu   sync.Mutex
	last time.Time
}

func NewMessageService(
	userRepo *repository.UserRepository,
	messageRepo *repository.MessageRepository,
	publisher Publisher,
	historyCache HistoryCache,
	limits content.Limits,
	log *zap.Logger,
) *MessageService {
	return &MessageService{
		userRepo:     userRepo,
		messageRepo:  messageRepo,
		publisher:    publisher,
		historyCache: historyCache,
		limits:       limits,
		log:          logger.OrNop(log).Named("message_service"),
		now:          time.Now,
	}
}

// Submit validates, persists and then publishes a message to the receiver's
// room. The sender gets the stored message back instead of an echo.
func (s *MessageService) Submit(ctx context.Context, input SubmitInput) (*model.Message, error) {
	if input.SenderID == 0 {
		return nil, ErrUnauthorized
	}
	if input.ReceiverID == 0 {
		return nil, fmt.Errorf("%w: receiverId is required", ErrInvalidInput)
	}
	if input.ReceiverID == input.SenderID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrInvalidInput)
	}
	if err := content.Validate(input.Content, s.limits); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	exists, err := s.userRepo.Exists(ctx, input.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: receiver does not exist", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &model.Message{
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		Content:    input.Content,
		CreatedAt:  s.nextTimestampLocked(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	// The write is committed; nothing below may fail the call.
	bg := context.WithoutCancel(ctx)
	conv := model.NewConversation(msg.SenderID, msg.ReceiverID)
	if s.historyCache != nil {
		if err := s.historyCache.Invalidate(bg, conv); err != nil {
			s.log.Warn("history cache invalidate failed", zap.Stringer("conversation", conv), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(bg, msg.ReceiverID, *msg); err != nil {
			s.log.Warn("live delivery failed",
				zap.Uint("message_id", msg.ID),
				zap.Uint("receiver_id", msg.ReceiverID),
				zap.Error(err))
		}
	}

	s.log.Debug("message submitted",
		zap.Uint("message_id", msg.ID),
		zap.Uint("sender_id", msg.SenderID),
		zap.Uint("receiver_id", msg.ReceiverID))
	return msg, nil
}

// nextTimestampLocked never goes backwards, so a clock step cannot reorder
// history relative to publish order.
func (s *MessageService) nextTimestampLocked() time.Time {
	ts := s.now().UTC().Truncate(time.Millisecond)
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	return ts
}
