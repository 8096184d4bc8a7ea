package dto

// LoginRequest credenciales de backoffice.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OperatorResponse cuenta autenticada (sin hash).
type OperatorResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// LoginResponse token JWT para /api/admin.
type LoginResponse struct {
	Token     string           `json:"token"`
	ExpiresIn int              `json:"expires_in"` // segundos
	Operator  OperatorResponse `json:"operator"`
}
