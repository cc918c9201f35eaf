package users_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/testsupport"
	"revivalmetrics/internal/users"
)

func TestCreateAdminUser(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	require.NoError(t, users.CreateAdminUser(db, "admin@example.com", "secret123"))

	user, err := users.FindByEmail(db, "admin@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", user.EncryptedPassword)

	err = users.CreateAdminUser(db, "admin@example.com", "other")
	assert.ErrorIs(t, err, users.ErrUserExists)
}

func TestAuthenticate(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, users.CreateAdminUser(db, "admin@example.com", "secret123"))

	user, err := users.Authenticate(db, logger, "admin@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)

	reloaded, err := users.FindByID(db, user.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.LastLoginAt.Valid)

	_, err = users.Authenticate(db, logger, "admin@example.com", "wrong")
	assert.Error(t, err)

	_, err = users.Authenticate(db, logger, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestChangePassword(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, users.CreateAdminUser(db, "admin@example.com", "oldpass"))
	require.NoError(t, users.ChangePassword(db, "admin@example.com", "newpass"))

	_, err := users.Authenticate(db, logger, "admin@example.com", "newpass")
	require.NoError(t, err)

	_, err = users.Authenticate(db, logger, "admin@example.com", "oldpass")
	assert.Error(t, err)
}

func TestSetupAdminUserIfNotExists(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	users.SetupAdminUserIfNotExists(db, "seed@example.com", "password")
	users.SetupAdminUserIfNotExists(db, "seed@example.com", "password")

	var count int64
	require.NoError(t, db.Model(&users.User{}).Where("email = ?", "seed@example.com").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
