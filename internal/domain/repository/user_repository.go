package repository

import (
	"context"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// OperatorRepository puerto de lectura de cuentas de backoffice.
type OperatorRepository interface {
	// FindByEmail devuelve nil, nil si no existe.
	FindByEmail(ctx context.Context, email string) (*entity.Operator, error)
}
