package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/jhoicas/receipt-cashback/internal/application/dto"
	"github.com/jhoicas/receipt-cashback/internal/domain"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
	"github.com/jhoicas/receipt-cashback/pkg/jwt"
)

// JWTConfig configuración para generación de tokens.
type JWTConfig struct {
	Secret     string
	ExpMinutes int
	Issuer     string
}

// AuthUseCase login de cuentas de backoffice.
type AuthUseCase struct {
	operators repository.OperatorRepository
	jwtCfg    JWTConfig
}

// NewAuthUseCase construye el caso de uso de auth.
func NewAuthUseCase(operators repository.OperatorRepository, jwtCfg JWTConfig) *AuthUseCase {
	if jwtCfg.ExpMinutes <= 0 {
		jwtCfg.ExpMinutes = 60
	}
	return &AuthUseCase{operators: operators, jwtCfg: jwtCfg}
}

// Login verifica email/password, genera JWT y retorna token + cuenta.
func (uc *AuthUseCase) Login(ctx context.Context, in dto.LoginRequest) (*dto.LoginResponse, error) {
	op, err := uc.operators.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, domain.ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(in.Password)); err != nil {
		return nil, domain.ErrUnauthorized
	}
	if !op.Active {
		return nil, domain.ErrForbidden
	}
	token, err := jwt.Generate(uc.jwtCfg.Secret, op.ID, op.Role, uc.jwtCfg.Issuer, uc.jwtCfg.ExpMinutes)
	if err != nil {
		return nil, err
	}
	return &dto.LoginResponse{
		Token:     token,
		ExpiresIn: uc.jwtCfg.ExpMinutes * 60,
		Operator:  toOperatorResponse(op),
	}, nil
}

// HashPassword genera el hash bcrypt para cargar una cuenta en AUTH_OPERATORS.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func toOperatorResponse(op *entity.Operator) dto.OperatorResponse {
	return dto.OperatorResponse{ID: op.ID, Email: op.Email, Role: op.Role}
}
