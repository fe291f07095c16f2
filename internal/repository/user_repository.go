package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"gopherdm/internal/model"
)

var ErrDuplicate = errors.New("duplicate record")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

// GetByUsername is an exact, case-sensitive match. It returns nil, nil when
// no user has that name.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var users []model.User
	// BINARY comparison is not portable across dialects, so filter the
	// collation-insensitive match in Go.
	if err := r.db.WithContext(ctx).Where("username = ?", username).Limit(8).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("query user by username failed: %w", err)
	}
	for i := range users {
		if users[i].Username == username {
			return &users[i], nil
		}
	}
	return nil, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by id failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count user by id failed: %w", err)
	}
	return count > 0, nil
}
