package repository

import (
	"context"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// VerificationLedger define el puerto de persistencia de verificaciones: tabla de
// requests, log append-only de transiciones y contador de cuota diaria.
type VerificationLedger interface {
	// Admit reserva un cupo del día req.Day y persiste req (PENDING) en una sola
	// operación atómica. Devuelve false sin persistir nada si el cupo está agotado.
	// limit <= 0 desactiva el tope.
	Admit(ctx context.Context, req *entity.VerificationRequest, limit int) (bool, error)
	// Record persiste un request que no consumió cupo (p. ej. rechazado por cuota).
	Record(ctx context.Context, req *entity.VerificationRequest, reason entity.Reason) error
	// Transition persiste el estado actual de req y agrega el evento from → req.State.
	// Devuelve domain.ErrConflict si el request almacenado ya es final.
	Transition(ctx context.Context, req *entity.VerificationRequest, from entity.RequestState, reason entity.Reason) error
	// Get devuelve domain.ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*entity.VerificationRequest, error)
	// FindLatestByKey último request (por creación) con la clave fn|fd|fp; nil si no hay.
	FindLatestByKey(ctx context.Context, key string) (*entity.VerificationRequest, error)
	// ListActive requests PENDING/PROCESSING, más antiguos primero.
	ListActive(ctx context.Context, limit int) ([]*entity.VerificationRequest, error)
	// Stats conteo por estado de los requests admitidos o registrados el día indicado.
	Stats(ctx context.Context, day string) (entity.LedgerStats, error)
	// QuotaUsed cupos consumidos el día indicado.
	QuotaUsed(ctx context.Context, day string) (int, error)
	// Events log de transiciones de un request en orden cronológico.
	Events(ctx context.Context, requestID string) ([]entity.LedgerEvent, error)
}
