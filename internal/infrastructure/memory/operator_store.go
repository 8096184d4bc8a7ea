package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
	"github.com/jhoicas/receipt-cashback/pkg/config"
)

var _ repository.OperatorRepository = (*OperatorStore)(nil)

// OperatorStore cuentas de backoffice cargadas desde configuración.
type OperatorStore struct {
	byEmail map[string]*entity.Operator
}

// NewOperatorStore indexa las cuentas por email. El ID es estable por email.
func NewOperatorStore(accounts []config.OperatorAccount) *OperatorStore {
	s := &OperatorStore{byEmail: make(map[string]*entity.Operator, len(accounts))}
	for _, a := range accounts {
		email := strings.ToLower(a.Email)
		s.byEmail[email] = &entity.Operator{
			ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte("operator:"+email)).String(),
			Email:        email,
			PasswordHash: a.PasswordHash,
			Role:         a.Role,
			Active:       true,
		}
	}
	return s
}

func (s *OperatorStore) FindByEmail(_ context.Context, email string) (*entity.Operator, error) {
	op, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}
