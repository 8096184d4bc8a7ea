// Package memory implementa el ledger de verificaciones en proceso. Útil para
// desarrollo y pruebas; los datos se pierden al reiniciar.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jhoicas/receipt-cashback/internal/domain"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
)

var _ repository.VerificationLedger = (*Ledger)(nil)

// Ledger implementación de VerificationLedger protegida por un mutex.
// La admisión (chequeo de cupo + alta) ocurre bajo el mismo candado.
type Ledger struct {
	mu       sync.RWMutex
	requests map[string]*entity.VerificationRequest
	byKey    map[string]string // fn|fd|fp → último request id
	events   map[string][]entity.LedgerEvent
	quota    map[string]int // día → cupos consumidos
}

// NewLedger construye un ledger vacío.
func NewLedger() *Ledger {
	return &Ledger{
		requests: make(map[string]*entity.VerificationRequest),
		byKey:    make(map[string]string),
		events:   make(map[string][]entity.LedgerEvent),
		quota:    make(map[string]int),
	}
}

func (l *Ledger) Admit(_ context.Context, req *entity.VerificationRequest, limit int) (bool, error) {
	if req == nil || req.ID == "" || req.Day == "" {
		return false, fmt.Errorf("%w: request sin id o día", domain.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.requests[req.ID]; exists {
		return false, fmt.Errorf("%w: request %s ya existe", domain.ErrConflict, req.ID)
	}
	if limit > 0 && l.quota[req.Day] >= limit {
		return false, nil
	}
	l.quota[req.Day]++
	l.store(req, "", entity.ReasonNone)
	return true, nil
}

func (l *Ledger) Record(_ context.Context, req *entity.VerificationRequest, reason entity.Reason) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("%w: request sin id", domain.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.requests[req.ID]; exists {
		return fmt.Errorf("%w: request %s ya existe", domain.ErrConflict, req.ID)
	}
	l.store(req, "", reason)
	return nil
}

func (l *Ledger) Transition(_ context.Context, req *entity.VerificationRequest, from entity.RequestState, reason entity.Reason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.requests[req.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.State.IsTerminal() {
		return fmt.Errorf("%w: request %s ya está en %s", domain.ErrConflict, req.ID, stored.State)
	}
	if stored.State != from {
		return fmt.Errorf("%w: se esperaba %s y está en %s", domain.ErrConflict, from, stored.State)
	}
	l.store(req, from, reason)
	return nil
}

// store guarda una copia y agrega el evento. Requiere el candado tomado.
func (l *Ledger) store(req *entity.VerificationRequest, from entity.RequestState, reason entity.Reason) {
	l.requests[req.ID] = req.Clone()
	l.byKey[req.Data.Key()] = req.ID
	l.events[req.ID] = append(l.events[req.ID], entity.LedgerEvent{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		From:      from,
		To:        req.State,
		Reason:    reason,
		Attempt:   req.Attempts,
		MessageID: req.MessageID,
		At:        req.UpdatedAt,
	})
}

func (l *Ledger) Get(_ context.Context, id string) (*entity.VerificationRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	req, ok := l.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (l *Ledger) FindLatestByKey(_ context.Context, key string) (*entity.VerificationRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byKey[key]
	if !ok {
		return nil, nil
	}
	return l.requests[id].Clone(), nil
}

func (l *Ledger) ListActive(_ context.Context, limit int) ([]*entity.VerificationRequest, error) {
	l.mu.RLock()
	out := make([]*entity.VerificationRequest, 0)
	for _, req := range l.requests {
		if !req.State.IsTerminal() {
			out = append(out, req.Clone())
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) Stats(_ context.Context, day string) (entity.LedgerStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var stats entity.LedgerStats
	for _, req := range l.requests {
		if req.Day == day {
			stats.Add(req.State)
		}
	}
	return stats, nil
}

func (l *Ledger) QuotaUsed(_ context.Context, day string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quota[day], nil
}

func (l *Ledger) Events(_ context.Context, requestID string) ([]entity.LedgerEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	evs := l.events[requestID]
	out := make([]entity.LedgerEvent, len(evs))
	copy(out, evs)
	return out, nil
}
