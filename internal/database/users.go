package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/models"

	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(d *Database) *UserStore {
	return &UserStore{db: d.gorm}
}

// Create inserts u. A taken email or username yields apperr.ErrConflict.
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.User{}).
			Where("email = ? OR username = ?", u.Email, u.Username).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to check existing users: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("user %q: %w", u.Email, apperr.ErrConflict)
		}

		err = tx.Create(u).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("user %q: %w", u.Email, apperr.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

func (s *UserStore) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFound(err, "user", email)
	}
	return &u, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err, "user", username)
	}
	return &u, nil
}

func (s *UserStore) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login", at).Error
	if err != nil {
		return fmt.Errorf("failed to update last login of user %d: %w", id, err)
	}
	return nil
}
