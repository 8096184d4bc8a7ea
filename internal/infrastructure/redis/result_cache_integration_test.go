package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

func newIntegrationCache(t *testing.T) *ResultCache {
	t.Helper()
	addr := os.Getenv("RECEIPT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RECEIPT_TEST_REDIS_ADDR to run redis integration test")
	}
	c := NewResultCache(addr, os.Getenv("RECEIPT_TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testKey(t *testing.T) string {
	return fmt.Sprintf("it-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestResultCacheIntegration_SetGet(t *testing.T) {
	c := newIntegrationCache(t)
	ctx := context.Background()
	key := testKey(t)
	t.Cleanup(func() { c.client.Del(ctx, keyPrefix+key) })

	checked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	req := &entity.VerificationRequest{
		ID:        "req-1",
		Data:      entity.ReceiptFiscalData{FN: "1", FD: "2", FP: "3", Sum: 1050, Date: checked, TypeOperation: entity.OperationSale},
		State:     entity.StateSuccess,
		MessageID: "msg-1",
		Attempts:  2,
		Day:       "2024-03-01",
		Result: &entity.ReceiptCheckResult{
			State:     entity.StateSuccess,
			Code:      200,
			Message:   "ok",
			Ticket:    &entity.ConfirmedTicket{Sum: 1050, OperationType: entity.OperationSale},
			CheckedAt: checked,
		},
	}
	require.NoError(t, c.Set(ctx, key, req, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "req-1", got.ID)
	assert.Equal(t, entity.StateSuccess, got.State)
	assert.Equal(t, int64(1050), got.Data.Sum)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Result)
	require.NotNil(t, got.Result.Ticket)
	assert.Equal(t, int64(1050), got.Result.Ticket.Sum)
	assert.True(t, checked.Equal(got.Result.CheckedAt))

	ttl, err := c.client.TTL(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestResultCacheIntegration_MissYExpiracion(t *testing.T) {
	c := newIntegrationCache(t)
	ctx := context.Background()
	key := testKey(t)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// TTL no positivo no escribe.
	require.NoError(t, c.Set(ctx, key, &entity.VerificationRequest{ID: "x"}, 0))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, &entity.VerificationRequest{ID: "x"}, 100*time.Millisecond))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok, err := c.Get(ctx, key)
		return err == nil && !ok
	}, 2*time.Second, 50*time.Millisecond)
}
