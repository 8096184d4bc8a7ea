package verification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/receipt-cashback/internal/application/verification"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
)

func TestTokenCache_ReutilizaHastaElMargenDeSeguridad(t *testing.T) {
	clock := newClock(testStart)
	client := newFakeClient(clock)
	client.authFn = func(int) (*entity.AuthorityToken, error) {
		return &entity.AuthorityToken{Value: "tok", ExpiresAt: clock.Now().Add(10 * time.Minute)}, nil
	}
	cache := verification.NewTokenCache(client, "master", 30*time.Second, clock.Now, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := cache.GetValidToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", tok.Value)
	}
	auth, _, _, _ := client.counts()
	assert.Equal(t, 1, auth)

	clock.Advance(9*time.Minute + 29*time.Second)
	_, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	auth, _, _, _ = client.counts()
	assert.Equal(t, 1, auth, "fuera del margen todavía es válido")

	clock.Advance(2 * time.Second)
	_, err = cache.GetValidToken(ctx)
	require.NoError(t, err)
	auth, _, _, _ = client.counts()
	assert.Equal(t, 2, auth, "dentro del margen se renueva")
}

func TestTokenCache_RenovacionUnicaConLlamadoresConcurrentes(t *testing.T) {
	clock := newClock(testStart)
	client := newFakeClient(clock)
	release := make(chan struct{})
	client.authFn = func(n int) (*entity.AuthorityToken, error) {
		<-release
		return &entity.AuthorityToken{Value: "shared", ExpiresAt: clock.Now().Add(time.Hour)}, nil
	}
	cache := verification.NewTokenCache(client, "master", 30*time.Second, clock.Now, zerolog.Nop())

	var wg sync.WaitGroup
	values := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.GetValidToken(context.Background())
			if err == nil {
				values[i] = tok.Value
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	auth, _, _, _ := client.counts()
	assert.Equal(t, 1, auth)
	for _, v := range values {
		assert.Equal(t, "shared", v)
	}
}

func TestTokenCache_ErrorNoQuedaEnCache(t *testing.T) {
	clock := newClock(testStart)
	client := newFakeClient(clock)
	client.authFn = func(n int) (*entity.AuthorityToken, error) {
		if n == 1 {
			return nil, domainfns.NewError(domainfns.KindIPNotAllowlisted, "authenticate", "ip", nil)
		}
		return &entity.AuthorityToken{Value: "ok", ExpiresAt: clock.Now().Add(time.Hour)}, nil
	}
	cache := verification.NewTokenCache(client, "master", 0, clock.Now, zerolog.Nop())

	_, err := cache.GetValidToken(context.Background())
	assert.True(t, domainfns.IsKind(err, domainfns.KindIPNotAllowlisted))

	tok, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok.Value)
}

func TestTokenCache_InvalidateIfSoloDescartaElTokenRechazado(t *testing.T) {
	clock := newClock(testStart)
	client := newFakeClient(clock)
	cache := verification.NewTokenCache(client, "master", 0, clock.Now, zerolog.Nop())
	ctx := context.Background()

	first, err := cache.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first.Value)

	cache.InvalidateIf("otro")
	again, _ := cache.GetValidToken(ctx)
	assert.Equal(t, "tok-1", again.Value)

	cache.InvalidateIf("tok-1")
	renewed, _ := cache.GetValidToken(ctx)
	assert.Equal(t, "tok-2", renewed.Value)

	cache.Invalidate()
	last, _ := cache.GetValidToken(ctx)
	assert.Equal(t, "tok-3", last.Value)
}

func TestTokenCache_TokenVencidoNuncaSeReutiliza(t *testing.T) {
	clock := newClock(testStart)
	client := newFakeClient(clock)
	client.authFn = func(n int) (*entity.AuthorityToken, error) {
		return &entity.AuthorityToken{Value: "t", ExpiresAt: clock.Now().Add(time.Minute)}, nil
	}
	cache := verification.NewTokenCache(client, "master", 0, clock.Now, zerolog.Nop())
	ctx := context.Background()

	_, _ = cache.GetValidToken(ctx)
	clock.Advance(time.Minute)
	_, _ = cache.GetValidToken(ctx)

	auth, _, _, _ := client.counts()
	assert.Equal(t, 2, auth)
}
