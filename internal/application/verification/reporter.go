package verification

import (
	"context"
	"fmt"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
)

// Reporter consultas de solo lectura sobre el ledger para colaboradores de reporte.
type Reporter struct {
	ledger repository.VerificationLedger
	co     *Coordinator
}

// NewReporter construye el reporter.
func NewReporter(ledger repository.VerificationLedger, co *Coordinator) *Reporter {
	return &Reporter{ledger: ledger, co: co}
}

// Stats conteo por estado del día en curso (zona de la Autoridad).
func (r *Reporter) Stats(ctx context.Context) (string, entity.LedgerStats, error) {
	day := r.co.Day(r.co.cfg.Now())
	stats, err := r.ledger.Stats(ctx, day)
	if err != nil {
		return day, stats, fmt.Errorf("reporter stats: %w", err)
	}
	return day, stats, nil
}

// Quota uso de la cuota del día en curso.
func (r *Reporter) Quota(ctx context.Context) (entity.QuotaSnapshot, error) {
	day := r.co.Day(r.co.cfg.Now())
	used, err := r.ledger.QuotaUsed(ctx, day)
	if err != nil {
		return entity.QuotaSnapshot{}, fmt.Errorf("reporter quota: %w", err)
	}
	return entity.QuotaSnapshot{Day: day, Count: used, Limit: r.co.cfg.DailyLimit}, nil
}

// Get devuelve un request sin consultar a la Autoridad.
func (r *Reporter) Get(ctx context.Context, id string) (*entity.VerificationRequest, error) {
	return r.ledger.Get(ctx, id)
}

// Events log de transiciones de un request.
func (r *Reporter) Events(ctx context.Context, id string) ([]entity.LedgerEvent, error) {
	if _, err := r.ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.ledger.Events(ctx, id)
}
