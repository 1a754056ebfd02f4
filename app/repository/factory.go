package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const defaultQueryTimeout = 5 * time.Second

// Repositories bundles the repositories handed to services.
type Repositories struct {
	User         UserRepository
	UserSettings UserSettingsRepository
}

// NewRepositories wires all repositories against db. Every query runs under
// queryTimeout; zero selects the default.
func NewRepositories(db *gorm.DB, queryTimeout time.Duration) *Repositories {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Repositories{
		User:         NewUserRepository(db, queryTimeout),
		UserSettings: NewUserSettingsRepository(db, queryTimeout),
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
