package repository

import (
	"context"
	"strings"
	"time"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB, timeout time.Duration) UserRepository {
	return &userRepository{db: db, timeout: timeout}
}

// CreateWithSettings creates a new user with default free settings
func (r *userRepository) CreateWithSettings(ctx context.Context, user *models.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserSettings{UserID: user.ID, Plan: models.PlanFree}).Error
	})
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&models.User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	return count > 0, err
}

func (r *userRepository) HardDelete(ctx context.Context, id uint) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("user_id = ?", id).Delete(&models.UserSettings{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.User{}, id).Error
	})
}
