package verification

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// ResultCache guarda resultados finales por clave fn|fd|fp para reutilizarlos
// ante envíos duplicados. La implementación distribuida usa Redis.
type ResultCache interface {
	Get(ctx context.Context, key string) (*entity.VerificationRequest, bool, error)
	Set(ctx context.Context, key string, req *entity.VerificationRequest, ttl time.Duration) error
}

// TerminalHook se invoca una vez cuando un request llega a un estado final
// (p. ej. el colaborador de cálculo de cashback).
type TerminalHook func(ctx context.Context, req *entity.VerificationRequest)

// MemoryResultCache implementación en proceso de ResultCache.
type MemoryResultCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	req       *entity.VerificationRequest
	expiresAt time.Time
}

// NewMemoryResultCache construye la caché en memoria.
func NewMemoryResultCache(now func() time.Time) *MemoryResultCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryResultCache{entries: make(map[string]memoryEntry), now: now}
}

func (c *MemoryResultCache) Get(_ context.Context, key string) (*entity.VerificationRequest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.req.Clone(), true, nil
}

func (c *MemoryResultCache) Set(_ context.Context, key string, req *entity.VerificationRequest, ttl time.Duration) error {
	if req == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{req: req.Clone(), expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
