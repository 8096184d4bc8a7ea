package entity

import (
	"strings"
	"time"
)

// OperationType tipo de operación del ticket fiscal (tag "n" del QR).
type OperationType int

const (
	OperationSale          OperationType = 1 // Venta (приход)
	OperationSaleReturn    OperationType = 2 // Devolución de venta
	OperationExpense       OperationType = 3 // Gasto (расход)
	OperationExpenseReturn OperationType = 4 // Devolución de gasto
)

// Valid indica si el tipo pertenece al catálogo de la Autoridad.
func (t OperationType) Valid() bool {
	return t >= OperationSale && t <= OperationExpenseReturn
}

// IsReturn indica si la operación es una devolución.
func (t OperationType) IsReturn() bool {
	return t == OperationSaleReturn || t == OperationExpenseReturn
}

// FiscalDateLayout formato civil (sin zona) con el que la Autoridad recibe la fecha del ticket.
const FiscalDateLayout = "2006-01-02T15:04:05"

// ReceiptFiscalData identifica un ticket fiscal en el registro de la Autoridad.
// Se crea al decodificar el QR y no se modifica después.
type ReceiptFiscalData struct {
	FN            string        // Número de serie del registrador fiscal
	FD            string        // Número de documento fiscal (tag "i")
	FP            string        // Signo fiscal
	Sum           int64         // Total en unidades menores (kopecks)
	Date          time.Time     // Fecha/hora civil de la operación, sin conversión de zona
	TypeOperation OperationType // 1 por defecto
}

// Key clave de contenido para detectar envíos duplicados (fn+fd+fp).
func (d ReceiptFiscalData) Key() string {
	return strings.Join([]string{d.FN, d.FD, d.FP}, "|")
}

// DateString fecha en formato civil YYYY-MM-DDTHH:MM:SS.
func (d ReceiptFiscalData) DateString() string {
	return d.Date.Format(FiscalDateLayout)
}

// AuthorityToken credencial de sesión emitida por el servicio de autenticación.
type AuthorityToken struct {
	Value     string
	ExpiresAt time.Time
}

// UsableAt indica si el token puede usarse en now dejando un margen de seguridad
// antes del vencimiento.
func (t *AuthorityToken) UsableAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}
