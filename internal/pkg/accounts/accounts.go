package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/app/repository"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/database"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/entitlements"
)

var (
	ErrAccountExists   = errors.New("accounts: account already exists")
	ErrAccountNotFound = errors.New("accounts: account not found")
	ErrInvalidAccount  = errors.New("accounts: invalid email or password")
)

// Entitlement describes a pro grant.
type Entitlement struct {
	UnlockedAt time.Time
	Source     string
	PayerEmail string
}

// Service owns account creation and the pro entitlement flag.
type Service struct {
	users    repository.UserRepository
	settings repository.UserSettingsRepository
	log      logrus.FieldLogger
}

func NewService(repos *repository.Repositories, log logrus.FieldLogger) *Service {
	return &Service{users: repos.User, settings: repos.UserSettings, log: log}
}

// CreateAccount creates an active free account and returns its id.
func (s *Service) CreateAccount(ctx context.Context, email, password string) (uint, error) {
	if len(password) < models.MinPasswordLength {
		return 0, fmt.Errorf("%w: password shorter than %d characters", ErrInvalidAccount, models.MinPasswordLength)
	}
	user, err := models.CreateUser(email, password)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if err := s.users.CreateWithSettings(ctx, user); err != nil {
		if database.IsDuplicateKey(err) {
			return 0, ErrAccountExists
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	s.log.WithField("user_id", user.ID).Info("account created")
	return user.ID, nil
}

func (s *Service) Exists(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("lookup account: %w", err)
	}
	return exists, nil
}

// IsPro reports the entitlement flag for userID.
func (s *Service) IsPro(ctx context.Context, userID uint) (bool, error) {
	us, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user settings: %w", err)
	}
	return entitlements.IsPro(us), nil
}

// SetEntitlement grants pro. Granting an already pro account is a no-op.
func (s *Service) SetEntitlement(ctx context.Context, userID uint, e Entitlement) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if database.IsNotFound(err) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	us, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user settings: %w", err)
	}
	if entitlements.IsPro(us) && us.ProUnlockedAt != nil {
		return nil
	}
	us.GrantPro(e.UnlockedAt, e.Source, e.PayerEmail)
	if err := s.settings.Save(ctx, us); err != nil {
		return fmt.Errorf("save user settings: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "source": e.Source}).Info("pro entitlement granted")
	return nil
}

// DeleteAccount permanently removes an account created moments ago that lost
// its claim.
func (s *Service) DeleteAccount(ctx context.Context, userID uint) error {
	if err := s.users.HardDelete(ctx, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.log.WithField("user_id", userID).Warn("account deleted")
	return nil
}
