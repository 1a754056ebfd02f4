package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateUserNormalizesEmail(t *testing.T) {
	u, err := CreateUser("  New.User@Example.COM ", "correct-horse")
	require.NoError(t, err)

	assert.Equal(t, "new.user@example.com", u.Email)
	assert.Equal(t, "new.user", u.Name)
	assert.Equal(t, STATUS_ACTIVE, u.Status)
	assert.True(t, u.IsActive())
	assert.NotEqual(t, "correct-horse", u.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("correct-horse")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("wrong-horse")))
}

func TestCreateUserRejectsInvalidEmail(t *testing.T) {
	_, err := CreateUser("not-an-email", "correct-horse")
	assert.Error(t, err)
}
