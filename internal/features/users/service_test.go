package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
)

func TestEnsureUserUpdatesHandle(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.EnsureUser(ctx, 1, "old_handle", "Иван", ""))
	require.NoError(t, svc.EnsureUser(ctx, 1, "new_handle", "Иван", "Петров"))

	u, err := svc.GetByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new_handle", u.Username)
	assert.Equal(t, "Петров", u.LastName)

	found, err := svc.GetByUsername(ctx, "new_handle")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.UserID)

	_, err = svc.GetByUsername(ctx, "old_handle")
	assert.True(t, common.IsKind(err, common.KindValidation))
}

func TestMissingUser(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())
	ctx := context.Background()

	_, err := svc.GetByUserID(ctx, 404)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.ErrorIs(t, err, common.ErrUserNotFound)

	balance, err := svc.Balance(ctx, 404)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
