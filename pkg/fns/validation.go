package fns

import (
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/receipt-cashback/internal/domain"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// DefaultEarliestReceiptDate inicio del registro en línea de la Autoridad (54-FZ).
var DefaultEarliestReceiptDate = time.Date(2017, time.February, 1, 0, 0, 0, 0, time.UTC)

// AdmissionPolicy límites de plausibilidad para admitir un ticket.
type AdmissionPolicy struct {
	Earliest time.Time     // tickets anteriores se rechazan
	Skew     time.Duration // tolerancia de reloj para fechas "futuras"
}

// Validate comprueba que el ticket sea admisible: identificadores presentes,
// monto positivo en unidades menores y fecha no futura ni anterior a Earliest.
// Devuelve un error que envuelve domain.ErrInvalidInput.
func (p AdmissionPolicy) Validate(d entity.ReceiptFiscalData, now time.Time) error {
	var problems []string
	if strings.TrimSpace(d.FN) == "" {
		problems = append(problems, "fn vacío")
	}
	if strings.TrimSpace(d.FD) == "" {
		problems = append(problems, "fd vacío")
	}
	if strings.TrimSpace(d.FP) == "" {
		problems = append(problems, "fp vacío")
	}
	if d.Sum <= 0 {
		problems = append(problems, "sum debe ser positivo (unidades menores)")
	}
	if d.TypeOperation != 0 && !d.TypeOperation.Valid() {
		problems = append(problems, "tipo de operación inválido")
	}
	switch {
	case d.Date.IsZero():
		problems = append(problems, "fecha vacía")
	case d.Date.After(now.Add(p.Skew)):
		problems = append(problems, "fecha en el futuro")
	case !p.Earliest.IsZero() && d.Date.Before(p.Earliest):
		problems = append(problems, "fecha anterior al inicio del registro fiscal")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
