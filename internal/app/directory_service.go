package app

import (
	"context"
	"fmt"

	"gopherdm/internal/model"
	"gopherdm/internal/repository"
)

type DirectoryService struct {
	userRepo *repository.UserRepository
}

func NewDirectoryService(userRepo *repository.UserRepository) *DirectoryService {
	return &DirectoryService{userRepo: userRepo}
}

// FindExact looks a user up by exact, case-sensitive username. There is no
// prefix or fuzzy matching.
func (s *DirectoryService) FindExact(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, ErrInvalidInput
	}
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
