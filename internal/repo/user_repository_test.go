package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goinginblind/support-ticket-bot/internal/model"
)

func TestUserRepository_TouchCreatesThenRefreshes(t *testing.T) {
	db := newTestDB(t)
	r := NewUserRepository(db)
	ctx := context.Background()

	u, err := r.Touch(ctx, Identity{TelegramID: 100, Username: "ivan", FirstName: "Ivan"})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, model.RoleUser, u.RoleID)
	assert.Equal(t, "https://t.me/ivan", u.LinkChat)
	assert.False(t, u.HasEmail())

	again, err := r.Touch(ctx, Identity{TelegramID: 100, Username: "ivan_p", FirstName: "Ivan"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	got, err := r.GetByTelegramID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "ivan_p", got.Username)
	require.NotNil(t, got.LastActivityAt)
	require.NotNil(t, got.Role)
	assert.Equal(t, "user", got.Role.Title)

	var count int64
	db.Model(&model.User{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUserRepository_TouchLongTelegramNames(t *testing.T) {
	db := newTestDB(t)
	r := NewUserRepository(db)
	ctx := context.Background()

	// телега разрешает до 64 символов в имени и фамилии
	first := strings.Repeat("Я", 64)
	last := strings.Repeat("w", 64)
	_, err := r.Touch(ctx, Identity{TelegramID: 55, Username: strings.Repeat("u", 32), FirstName: first, LastName: last})
	require.NoError(t, err)

	u, err := r.GetByTelegramID(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, first, u.FirstName)
	assert.Equal(t, last, u.LastName)
}

func TestUserRepository_Updates(t *testing.T) {
	db := newTestDB(t)
	r := NewUserRepository(db)
	ctx := context.Background()

	_, err := r.Touch(ctx, Identity{TelegramID: 7, FirstName: "Anna"})
	require.NoError(t, err)

	require.NoError(t, r.SetEmail(ctx, 7, "anna@corp.example"))
	require.NoError(t, r.SetBlocked(ctx, 7, true))
	require.NoError(t, r.SetRole(ctx, 7, model.RoleManager))
	assert.Error(t, r.SetRole(ctx, 7, 9))

	u, err := r.GetByTelegramID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, u.HasEmail())
	assert.Equal(t, "anna@corp.example", *u.Email)
	assert.True(t, u.IsBlocked)
	assert.Equal(t, model.RoleManager, u.RoleID)

	assert.ErrorIs(t, r.SetEmail(ctx, 999, "x@corp.example"), ErrNotFound)
	_, err = r.GetByTelegramID(ctx, 999)
	assert.True(t, IsNotFound(err))
}

func TestUserRepository_Search(t *testing.T) {
	db := newTestDB(t)
	r := NewUserRepository(db)
	ctx := context.Background()

	for _, id := range []Identity{
		{TelegramID: 111, Username: "Petrov"},
		{TelegramID: 222, FirstName: "Olga", LastName: "Petrova"},
		{TelegramID: 333, Username: "sidorov"},
	} {
		_, err := r.Touch(ctx, id)
		require.NoError(t, err)
	}

	found, err := r.Search(ctx, "petrov", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = r.Search(ctx, "33", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(333), found[0].IDTelegram)

	roles, err := r.Roles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)
}
