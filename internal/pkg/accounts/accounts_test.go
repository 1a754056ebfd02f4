package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/app/repository"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/logging"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   uint
	users    map[uint]*models.User
	settings map[uint]*models.UserSettings
	saves    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: map[uint]*models.User{}, settings: map[uint]*models.UserSettings{}}
}

type memoryUsers struct{ s *memoryStore }

func (m memoryUsers) CreateWithSettings(_ context.Context, user *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == user.Email {
			return gorm.ErrDuplicatedKey
		}
	}
	m.s.nextID++
	user.ID = m.s.nextID
	cp := *user
	m.s.users[user.ID] = &cp
	m.s.settings[user.ID] = &models.UserSettings{UserID: user.ID, Plan: models.PlanFree}
	return nil
}

func (m memoryUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (m memoryUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m memoryUsers) HardDelete(_ context.Context, id uint) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.users, id)
	delete(m.s.settings, id)
	return nil
}

type memorySettings struct{ s *memoryStore }

func (m memorySettings) GetOrCreate(_ context.Context, userID uint) (*models.UserSettings, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	us, ok := m.s.settings[userID]
	if !ok {
		us = &models.UserSettings{UserID: userID, Plan: models.PlanFree}
		m.s.settings[userID] = us
	}
	cp := *us
	return &cp, nil
}

func (m memorySettings) Save(_ context.Context, us *models.UserSettings) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *us
	m.s.settings[us.UserID] = &cp
	m.s.saves++
	return nil
}

func newTestService() (*Service, *memoryStore) {
	store := newMemoryStore()
	repos := &repository.Repositories{User: memoryUsers{store}, UserSettings: memorySettings{store}}
	return NewService(repos, logging.Discard()), store
}

func TestCreateAccount(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	id, err := svc.CreateAccount(ctx, "New@Example.com", "long-enough")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, "new@example.com", store.users[id].Email)

	exists, err := svc.Exists(ctx, "new@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	pro, err := svc.IsPro(ctx, id)
	require.NoError(t, err)
	assert.False(t, pro)
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "dup@example.com", "long-enough")
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, "DUP@example.com", "long-enough")
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestCreateAccountRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "dup@example.com", "short")
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = svc.CreateAccount(ctx, "not-an-email", "long-enough")
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestSetEntitlementIsIdempotent(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	id, err := svc.CreateAccount(ctx, "buyer@example.com", "long-enough")
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, svc.SetEntitlement(ctx, id, Entitlement{UnlockedAt: at, Source: "paypal", PayerEmail: "buyer@example.com"}))
	require.NoError(t, svc.SetEntitlement(ctx, id, Entitlement{UnlockedAt: at.Add(time.Hour), Source: "paypal"}))

	pro, err := svc.IsPro(ctx, id)
	require.NoError(t, err)
	assert.True(t, pro)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, at, *store.settings[id].ProUnlockedAt)
}

func TestSetEntitlementUnknownAccount(t *testing.T) {
	svc, _ := newTestService()
	err := svc.SetEntitlement(context.Background(), 42, Entitlement{UnlockedAt: time.Now()})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDeleteAccountFreesEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id, err := svc.CreateAccount(ctx, "gone@example.com", "long-enough")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, id))
	exists, err := svc.Exists(ctx, "gone@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}
