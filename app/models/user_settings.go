package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// UserSettings stores per-user plan info
type UserSettings struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"uniqueIndex" json:"user_id"`
	Plan          string         `gorm:"type:varchar(50);default:'free'" json:"plan"`
	ProUnlockedAt *time.Time     `gorm:"type:timestamp;default:null" json:"pro_unlocked_at,omitempty"`
	ProSource     string         `gorm:"type:varchar(50);default:''" json:"pro_source"`
	ProPayerEmail string         `gorm:"type:varchar(200);default:''" json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// GetOrCreateUserSettings returns existing settings or creates defaults
func GetOrCreateUserSettings(db *gorm.DB, userID uint) (*UserSettings, error) {
	var us UserSettings
	if err := db.Where("user_id = ?", userID).First(&us).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			us = UserSettings{UserID: userID, Plan: PlanFree}
			if err := db.Create(&us).Error; err != nil {
				return nil, err
			}
			return &us, nil
		}
		return nil, err
	}
	return &us, nil
}

// IsPro reports whether the pro entitlement is active.
func (us *UserSettings) IsPro() bool {
	return us != nil && us.Plan == PlanPro
}

// GrantPro sets the pro plan. Granting twice keeps the first unlock time and
// source, so repeated calls are harmless.
func (us *UserSettings) GrantPro(at time.Time, source, payerEmail string) {
	if us.IsPro() && us.ProUnlockedAt != nil {
		return
	}
	us.Plan = PlanPro
	unlocked := at
	us.ProUnlockedAt = &unlocked
	us.ProSource = source
	us.ProPayerEmail = payerEmail
}
