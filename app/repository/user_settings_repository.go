package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"gorm.io/gorm"
)

type userSettingsRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewUserSettingsRepository(db *gorm.DB, timeout time.Duration) UserSettingsRepository {
	return &userSettingsRepository{db: db, timeout: timeout}
}

func (r *userSettingsRepository) GetOrCreate(ctx context.Context, userID uint) (*models.UserSettings, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return models.GetOrCreateUserSettings(r.db.WithContext(ctx), userID)
}

func (r *userSettingsRepository) Save(ctx context.Context, us *models.UserSettings) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.WithContext(ctx).Save(us).Error
}
