package entity

// Roles de backoffice.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Operator cuenta de backoffice que consulta reportes de verificación.
type Operator struct {
	ID           string
	Email        string
	PasswordHash string // bcrypt
	Role         string // admin, operator
	Active       bool
}
