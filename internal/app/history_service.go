package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gopherdm/internal/model"
	"gopherdm/internal/pkg/logger"
	"gopherdm/internal/repository"
)

type HistoryQuery struct {
	Limit    int
	BeforeID uint
}

func (q HistoryQuery) full() bool {
	return q.Limit <= 0 && q.BeforeID == 0
}

type HistoryService struct {
	messageRepo  *repository.MessageRepository
	historyCache HistoryCache
	log          *zap.Logger
}

func NewHistoryService(messageRepo *repository.MessageRepository, historyCache HistoryCache, log *zap.Logger) *HistoryService {
	return &HistoryService{
		messageRepo:  messageRepo,
		historyCache: historyCache,
		log:          logger.OrNop(log).Named("history_service"),
	}
}

// Conversation returns the messages between me and peer in conversation
// order. An unknown peer simply has no messages.
func (s *HistoryService) Conversation(ctx context.Context, me, peer uint, query HistoryQuery) ([]model.Message, error) {
	if me == 0 {
		return nil, ErrUnauthorized
	}
	if peer == 0 || peer == me {
		return []model.Message{}, nil
	}

	conv := model.NewConversation(me, peer)
	useCache := s.historyCache != nil && query.full()
	if useCache {
		dirty, err := s.historyCache.IsDirty(ctx, conv)
		if err == nil && !dirty {
			cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conv)
			if cacheErr == nil && hit {
				return cached, nil
			}
			if cacheErr != nil {
				s.log.Debug("history cache read failed", zap.Stringer("conversation", conv), zap.Error(cacheErr))
			}
		}
	}

	messages, err := s.messageRepo.ListConversation(ctx, me, peer, repository.ConversationPage{
		Limit:    query.Limit,
		BeforeID: query.BeforeID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if messages == nil {
		messages = []model.Message{}
	}

	if useCache {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conv); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, conv, messages)
		}
	}
	return messages, nil
}
