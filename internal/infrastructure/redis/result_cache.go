// Package redis implementa la caché distribuida de resultados de verificación.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/receipt-cashback/internal/application/verification"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

var _ verification.ResultCache = (*ResultCache)(nil)

const keyPrefix = "receipt:result:"

// ResultCache guarda resultados finales como JSON con TTL, compartidos entre instancias.
type ResultCache struct {
	client *goredis.Client
}

// NewResultCache construye la caché con un cliente propio.
func NewResultCache(addr, password string, db int) *ResultCache {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &ResultCache{client: client}
}

func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}

func (c *ResultCache) Get(ctx context.Context, key string) (*entity.VerificationRequest, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var req entity.VerificationRequest
	if err := json.Unmarshal(val, &req); err != nil {
		return nil, false, err
	}
	return &req, true, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, req *entity.VerificationRequest, ttl time.Duration) error {
	if req == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}
