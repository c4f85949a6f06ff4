package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundledger-backend/internal/domain"
)

func TestBalanceCache_SetThenGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewBalanceCache(client, time.Minute)
	ctx := context.Background()
	userID := uuid.MustParse("6f1c2a8e-0d4b-4c39-9a57-2b1e5d7f8c90")
	key := "fundledger:balance:" + userID.String()
	versionKey := "fundledger:balance:version:" + userID.String()
	payload := `{"user_id":"6f1c2a8e-0d4b-4c39-9a57-2b1e5d7f8c90","reserve":"350.00","liquid":"0.30"}`

	mock.ExpectEval(setIfVersionScript, []string{key, versionKey}, int64(3), payload, int64(60_000)).SetVal(int64(1))
	mock.ExpectGet(key).SetVal(payload)

	stored, err := c.Set(ctx, &domain.BalanceSnapshot{
		UserID:         userID,
		ReserveBalance: decimal.RequireFromString("350"),
		LiquidBalance:  decimal.RequireFromString("0.1").Add(decimal.RequireFromString("0.2")),
	}, 3)
	require.NoError(t, err)
	assert.True(t, stored)

	snapshot, ok, err := c.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, userID, snapshot.UserID)
	assert.Equal(t, "350.00", domain.FormatAmount(snapshot.ReserveBalance))
	assert.Equal(t, "0.30", domain.FormatAmount(snapshot.LiquidBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceCache_SetAfterInvalidationIsDiscarded(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewBalanceCache(client, time.Minute)
	userID := uuid.New()
	key := "fundledger:balance:" + userID.String()
	versionKey := "fundledger:balance:version:" + userID.String()
	payload := `{"user_id":"` + userID.String() + `","reserve":"0.00","liquid":"10.00"}`

	// Reader takes version 0, a commit invalidates, then the reader tries to fill
	mock.ExpectGet(versionKey).RedisNil()
	mock.ExpectEval(invalidateScript, []string{key, versionKey}, versionTTL.Milliseconds()).SetVal(int64(1))
	mock.ExpectEval(setIfVersionScript, []string{key, versionKey}, int64(0), payload, int64(60_000)).SetVal(int64(0))

	ctx := context.Background()
	version, err := c.Version(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, c.Invalidate(ctx, userID))

	stored, err := c.Set(ctx, &domain.BalanceSnapshot{UserID: userID, LiquidBalance: decimal.NewFromInt(10)}, version)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceCache_Version(t *testing.T) {
	userID := uuid.New()
	versionKey := "fundledger:balance:version:" + userID.String()

	t.Run("stored version", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet(versionKey).SetVal("4")

		version, err := NewBalanceCache(client, 0).Version(context.Background(), userID)
		assert.NoError(t, err)
		assert.Equal(t, int64(4), version)
	})

	t.Run("redis failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet(versionKey).SetErr(errors.New("connection refused"))

		_, err := NewBalanceCache(client, 0).Version(context.Background(), userID)
		assert.ErrorContains(t, err, "version")
	})
}

func TestBalanceCache_Miss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewBalanceCache(client, 0)
	userID := uuid.New()

	mock.ExpectGet("fundledger:balance:" + userID.String()).RedisNil()

	snapshot, ok, err := c.Get(context.Background(), userID)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snapshot)
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceCache_GetErrors(t *testing.T) {
	userID := uuid.New()
	key := "fundledger:balance:" + userID.String()

	t.Run("redis failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet(key).SetErr(errors.New("connection refused"))

		_, ok, err := NewBalanceCache(client, 0).Get(context.Background(), userID)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("corrupt payload", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet(key).SetVal(`{"reserve":"a lot"}`)

		_, ok, err := NewBalanceCache(client, 0).Get(context.Background(), userID)
		assert.ErrorContains(t, err, "reserve")
		assert.False(t, ok)
	})
}

func TestBalanceCache_Invalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewBalanceCache(client, 0)
	alice, bob := uuid.New(), uuid.New()

	mock.ExpectEval(invalidateScript, []string{
		"fundledger:balance:" + alice.String(), "fundledger:balance:version:" + alice.String(),
		"fundledger:balance:" + bob.String(), "fundledger:balance:version:" + bob.String(),
	}, versionTTL.Milliseconds()).SetVal(int64(2))

	assert.NoError(t, c.Invalidate(context.Background(), alice, bob))
	assert.NoError(t, c.Invalidate(context.Background()), "no users is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}
