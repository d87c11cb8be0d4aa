package repository

import (
	"context"
	"testing"

	"referpay/internal/domain"
	"referpay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCode(t *testing.T) {
	db := testutil.NewDB(t)
	u := testutil.CreateUser(t, db, "a@example.com", "")
	repo := NewReferralRepository(db)
	ctx := context.Background()

	rc, err := repo.GetOrCreateCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, rc.Code, 8)
	assert.Equal(t, NormalizeCode(rc.Code), rc.Code)

	again, err := repo.GetOrCreateCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, rc.ID, again.ID)

	found, err := repo.GetByCode(ctx, " "+rc.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, rc.ID, found.ID)

	require.NoError(t, repo.DeactivateCode(ctx, u.ID))
	_, err = repo.GetByCode(ctx, rc.Code)
	require.ErrorIs(t, err, domain.ErrNotFound)

	fresh, err := repo.GetOrCreateCode(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, rc.ID, fresh.ID)
}

func TestSettingOverrides(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	n, err := repo.GetInt64(ctx, domain.SettingReferralCommissionBps, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n, "missing row falls back")

	require.NoError(t, repo.Set(ctx, domain.SettingReferralCommissionBps, "750"))
	n, err = repo.GetInt64(ctx, domain.SettingReferralCommissionBps, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(750), n)

	require.NoError(t, repo.Set(ctx, domain.SettingReferralCommissionBps, "oops"))
	n, err = repo.GetInt64(ctx, domain.SettingReferralCommissionBps, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n, "malformed value falls back")

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSettingReadFailureIsNotMasked(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, domain.SettingReferralCommissionBps, "1000"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	n, err := repo.GetInt64(ctx, domain.SettingReferralCommissionBps, 500)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, n)
}
