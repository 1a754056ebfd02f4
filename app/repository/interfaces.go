package repository

import (
	"context"

	"github.com/ManuelReschke/ProUnlock/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	// CreateWithSettings inserts the user and its default settings row in one
	// transaction.
	CreateWithSettings(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// HardDelete removes the user and its settings permanently, bypassing
	// soft delete so the email becomes free again.
	HardDelete(ctx context.Context, id uint) error
}

// UserSettingsRepository defines the interface for plan/entitlement storage
type UserSettingsRepository interface {
	GetOrCreate(ctx context.Context, userID uint) (*models.UserSettings, error)
	Save(ctx context.Context, us *models.UserSettings) error
}
