package verification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// Authenticator subconjunto del cliente de la Autoridad que usa la caché de tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, masterToken string) (*entity.AuthorityToken, error)
}

// TokenCache guarda el token de sesión vigente. Se construye una vez al arrancar
// y se comparte por referencia; solo una autenticación puede estar en vuelo.
type TokenCache struct {
	auth   Authenticator
	master string
	margin time.Duration
	now    func() time.Time
	log    zerolog.Logger

	mu    sync.Mutex
	token *entity.AuthorityToken
	group singleflight.Group
}

// NewTokenCache construye la caché. margin es el margen de seguridad antes del vencimiento.
func NewTokenCache(auth Authenticator, masterToken string, margin time.Duration, now func() time.Time, log zerolog.Logger) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{
		auth:   auth,
		master: masterToken,
		margin: margin,
		now:    now,
		log:    log.With().Str("component", "token-cache").Logger(),
	}
}

// GetValidToken devuelve el token en caché si now < vencimiento - margen; si no,
// autentica. Los llamadores concurrentes durante una renovación comparten el resultado.
func (c *TokenCache) GetValidToken(ctx context.Context) (*entity.AuthorityToken, error) {
	if tok := c.current(); tok != nil {
		return tok, nil
	}
	v, err, shared := c.group.Do("authenticate", func() (interface{}, error) {
		if tok := c.current(); tok != nil {
			return tok, nil
		}
		// La renovación no se cancela si el primer llamador abandona.
		tok, err := c.auth.Authenticate(context.WithoutCancel(ctx), c.master)
		if err != nil {
			c.log.Warn().Err(err).Msg("autenticación ante la Autoridad fallida")
			return nil, err
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		c.log.Info().Time("expires_at", tok.ExpiresAt).Msg("token de sesión renovado")
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug().Msg("renovación compartida")
	}
	tok := v.(*entity.AuthorityToken)
	copied := *tok
	return &copied, nil
}

// Invalidate descarta el token en caché; el siguiente GetValidToken autentica.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// InvalidateIf descarta el token solo si sigue siendo value. Evita tirar un token
// que otro llamador ya renovó después del rechazo.
func (c *TokenCache) InvalidateIf(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Value == value {
		c.token = nil
		c.log.Info().Msg("token rechazado por la Autoridad, se descarta")
	}
}

func (c *TokenCache) current() *entity.AuthorityToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.token.UsableAt(c.now(), c.margin) {
		if c.token != nil {
			c.token = nil // vencido: nunca se reutiliza
		}
		return nil
	}
	copied := *c.token
	return &copied
}
